package fileload

// Delegate observes an Operation. Exactly one of OnFinished or OnFailed is
// called per operation. All calls happen on the operation's scheduler, except
// a failure delivered after the scheduler stopped accepting tasks, which runs
// on the goroutine that noticed it.
type Delegate interface {
	OnFinished(op *Operation, finalPath string)
	OnFailed(op *Operation, code FailureCode, err error)
	// OnProgress receives downloaded/total in [0,1]. Values never decrease.
	OnProgress(op *Operation, fraction float32)
}

// DelegateFuncs adapts plain functions to Delegate. Nil fields are skipped.
type DelegateFuncs struct {
	Finished func(op *Operation, finalPath string)
	Failed   func(op *Operation, code FailureCode, err error)
	Progress func(op *Operation, fraction float32)
}

func (d DelegateFuncs) OnFinished(op *Operation, finalPath string) {
	if d.Finished != nil {
		d.Finished(op, finalPath)
	}
}

func (d DelegateFuncs) OnFailed(op *Operation, code FailureCode, err error) {
	if d.Failed != nil {
		d.Failed(op, code, err)
	}
}

func (d DelegateFuncs) OnProgress(op *Operation, fraction float32) {
	if d.Progress != nil {
		d.Progress(op, fraction)
	}
}
