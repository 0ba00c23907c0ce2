package lifecycle

import "context"

// Single returns an Elector for deployments that run exactly one coordinator process.
// Every campaign wins at once and the term never ends on its own.
func Single() Elector {
	return singleElector{}
}

type singleElector struct{}

func (singleElector) Campaign(ctx context.Context) (Term, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &singleTerm{done: make(chan struct{})}, nil
}

type singleTerm struct {
	done chan struct{}
}

func (t *singleTerm) IsCoordinator(ctx context.Context) bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *singleTerm) Done() <-chan struct{} {
	return t.done
}

func (t *singleTerm) Resign(ctx context.Context) error {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	return nil
}
