package velopt

import (
	"errors"

	"github.com/velopt-ml/velopt/accelerators"
	"github.com/velopt-ml/velopt/backends"
	"github.com/velopt-ml/velopt/data"
	"github.com/velopt-ml/velopt/options"
)

// Session drives optimization searches and owns the backend environment and
// every optimized model it produced. A session should be destroyed when not
// needed any more, preferably with a defer() call.
type Session struct {
	options            *options.Options
	optimizedModels    []*OptimizedModel
	environmentDestroy func() error
	loadModel          func(config OptimizeConfig) (*backends.Model, error)
	compile            func(model *backends.Model, candidate accelerators.Candidate, calibration []data.Sample) (backends.CandidateSession, error)
}

// SessionOption is an option for a session.
type SessionOption = options.WithOption

func newSession(backend string, opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backend
	// Collect options into a struct, so they can be applied in the correct order later
	for _, option := range opts {
		err := option(parsedOptions)
		if err != nil {
			return nil, err
		}
	}

	session := &Session{
		options: parsedOptions,
		environmentDestroy: func() error {
			return nil
		},
	}
	session.loadModel = session.loadBackendModel
	session.compile = session.compileBackendCandidate
	return session, nil
}

// Backend returns the session backend, ORT or GO.
func (s *Session) Backend() string {
	return s.options.Backend
}

// Destroy frees every optimized model created by the session and tears down
// the backend environment.
func (s *Session) Destroy() error {
	var err error
	for _, optimized := range s.optimizedModels {
		err = errors.Join(err, optimized.Destroy())
	}
	s.optimizedModels = nil

	if s.options != nil {
		err = errors.Join(err, s.options.Destroy())
		s.options = nil
	}

	err = errors.Join(err, s.environmentDestroy())
	return err
}
