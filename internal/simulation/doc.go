// Package simulation replays REPL scripts against several EntityStore
// backends and compares what each one printed.
//
// Every backend gets its own fresh store and interpreter. The script runs one
// line at a time and the output of each line is captured as a Step, so a
// divergence can be traced to the command that caused it.
//
// Usage:
//
//	func TestBackendsAgree(t *testing.T) {
//	    sc, _ := simulation.Builtin("rpg")
//	    result, err := simulation.NewRunner(simulation.DefaultBackends()...).Run(ctx, sc)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    simulation.AssertNoDivergence(t, result)
//	}
package simulation
