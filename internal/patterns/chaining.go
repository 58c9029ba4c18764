package patterns

import (
	"context"
	"fmt"

	"github.com/petrijr/durable/pkg/api"
)

// registerChaining wires the function-chaining pattern: a sequence of
// activity calls where each greeting is recorded in order.
func registerChaining(eng api.Engine) error {
	if err := eng.RegisterActivity(SayHelloActivity, sayHello); err != nil {
		return err
	}
	return eng.RegisterOrchestrator(HelloSequence, helloSequence)
}

func sayHello(_ context.Context, input any) (any, error) {
	name, ok := input.(string)
	if !ok {
		return nil, fmt.Errorf("expected a city name, got %T", input)
	}
	return "Hello " + name + "!", nil
}

func helloSequence(ctx api.OrchestrationContext) (any, error) {
	var outputs []string
	for _, city := range []string{"Tokyo", "Seattle", "London"} {
		greeting, err := ctx.CallActivity(SayHelloActivity, city)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, greeting.(string))
	}
	return outputs, nil
}

// registerFanOut wires the fan-out/fan-in pattern: the greetings run in
// parallel and WhenAll gathers them back in call order, regardless of which
// activity finished first.
func registerFanOut(eng api.Engine) error {
	return eng.RegisterOrchestrator(FanOutFanIn, fanOutFanIn)
}

func fanOutFanIn(ctx api.OrchestrationContext) (any, error) {
	cities := []string{"Tokyo", "Delhi", "London"}
	tasks := make([]api.Task, len(cities))
	for i, city := range cities {
		tasks[i] = ctx.ScheduleActivity(SayHelloActivity, city)
	}

	results, err := ctx.WhenAll(tasks...)
	if err != nil {
		return nil, err
	}

	outputs := make([]string, len(results))
	for i, r := range results {
		outputs[i] = r.(string)
	}
	return outputs, nil
}
