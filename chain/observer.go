package chain

// Observer is notified before and after every step.
// Calls happen on the goroutine running the chain, in step order.
type Observer interface {
	StepStarted(step, total int, prompt string)
	StepFinished(step, total int, result Result, err error)
}

// NopObserver ignores all notifications
type NopObserver struct{}

func (NopObserver) StepStarted(int, int, string) {}

func (NopObserver) StepFinished(int, int, Result, error) {}

// Observers fans notifications out to several observers in order
type Observers []Observer

func (os Observers) StepStarted(step, total int, prompt string) {
	for _, o := range os {
		o.StepStarted(step, total, prompt)
	}
}

func (os Observers) StepFinished(step, total int, result Result, err error) {
	for _, o := range os {
		o.StepFinished(step, total, result, err)
	}
}
