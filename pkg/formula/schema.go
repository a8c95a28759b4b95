package formula

import (
	_ "embed"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/arthur-debert/keg/pkg/errors"
)

//go:embed schema.cue
var schemaSource string

// schema compiles the embedded CUE definitions once per process. A cue
// context is not safe for concurrent use, hence the mutex.
type schema struct {
	mu      sync.Mutex
	ctx     *cue.Context
	formula cue.Value
	err     error
}

var defaultSchema = &schema{}

func (s *schema) init() {
	s.ctx = cuecontext.New()
	v := s.ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		s.err = errors.Wrap(err, errors.ErrInternal, "formula schema does not compile")
		return
	}
	s.formula = v.LookupPath(cue.ParsePath("#Formula"))
}

// validate unifies the decoded document with #Formula and requires the
// result to be concrete.
func (s *schema) validate(raw *fileFormula) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil && s.err == nil {
		s.init()
	}
	if s.err != nil {
		return s.err
	}

	doc := s.ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return errors.Wrap(err, errors.ErrFormulaInvalid, "cannot encode formula for validation")
	}
	if err := s.formula.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return errors.Wrap(err, errors.ErrFormulaInvalid, "formula does not match schema").
			WithDetail("violations", cueerrors.Details(err, nil))
	}
	return nil
}
