// Package event provides a pub-sub event bus that carries battle lifecycle
// events from the orchestrator to observers such as the debug log, the
// live status view and tests.
//
// # Event Types
//
// Event types follow the pattern "category.action":
//   - battle.started, battle.paused, battle.completed
//   - round.started, round.completed
//   - twin.restored
//   - phase.completed
//   - checkpoint.saved
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers are called synchronously on the
// publishing goroutine and are protected against panics: a panicking handler
// is logged and does not prevent delivery to the others.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeRoundCompleted, func(e event.Event) {
//	    rc := e.(event.RoundCompletedEvent)
//	    fmt.Printf("round %d: red %d blue %d\n", rc.Round, rc.RedTotalScore, rc.BlueTotalScore)
//	})
//	bus.Publish(event.NewRoundStartedEvent("b-1", 1))
package event
