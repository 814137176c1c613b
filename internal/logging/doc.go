// Package logging provides structured logging for twinbattle.
//
// Logs are JSON lines produced by log/slog. Every battle writes to
// {data}/battles/{id}/debug.log, and child loggers carry the context that
// makes a multi-hour run searchable after the fact:
//
//	logger, err := logging.NewLogger(battleDir, "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	red := logger.WithBattle(id).WithTeam("red").WithRound(3)
//	red.WithPhase("research").Info("research_skipped:budget_exhausted")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"research_skipped:budget_exhausted","battle_id":"...","team":"red","round":3,"phase":"research"}
//
// Use [NewLoggerWithRotation] for overnight battles, and [NopLogger] in tests.
package logging
