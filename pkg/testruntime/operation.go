package testruntime

import "context"

// FakeOperation is an extended operation completing after DoneAfter polls.
// A negative DoneAfter never completes.
type FakeOperation struct {
	OpName    string
	DoneAfter int
	PollErr   error
	CancelErr error

	Polls   int
	Cancels int
}

func (f *FakeOperation) Name() string {
	return f.OpName
}

func (f *FakeOperation) Done() bool {
	return f.DoneAfter >= 0 && f.Polls >= f.DoneAfter
}

func (f *FakeOperation) Poll(context.Context) error {
	if f.PollErr != nil {
		return f.PollErr
	}

	f.Polls++

	return nil
}

func (f *FakeOperation) Cancel(context.Context) error {
	f.Cancels++

	return f.CancelErr
}
