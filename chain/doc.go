// Package chain executes prompt chains: an ordered list of prompt templates run
// one after another against a model invoker, where every step can see the
// results of the steps before it.
//
// # Template Syntax
//
// Templates use {{identifier}} placeholders (identifier = letters, digits and
// underscores). Each placeholder is replaced with the matching value from the
// run's Vars. Placeholders without a matching key stay in the prompt verbatim so
// unresolved template bugs remain visible. Substituted values are never scanned
// again.
//
// # Rolling Context
//
// From the second step on, the engine prepends the most recent results
// (Options.MaxContextWindow, default 5) to the prompt:
//
//	Previous story parts:
//
//	<result i-2>
//
//	<result i-1>
//
//	Now, continue the story:
//	<substituted template>
//
// # Invocation Modes
//
// Raw-text mode (Options.Schema == nil): the invoker returns text and the
// engine interprets it, preferring a fenced ```json block, then the whole reply
// as JSON, and otherwise keeping the text as is.
//
// Schema-validated mode (Options.Schema != nil): the schema is handed to the
// invoker, which must return data that already satisfies it or fail.
//
// # Failures
//
// A failed invocation never stops the chain by default. The step's result is
// recorded as null, the failure is reported to Options.ErrorHandler, the
// logger and the Observer, and the next step runs. Only setup problems (bad
// options, nil invoker) are returned from Run.
//
// # Example
//
//	engine, _ := chain.New(chain.Options{})
//	out, _ := engine.Run(ctx, chain.Vars{"hero": "Pip"}, invoker, []string{
//	    "Write an opening about {{hero}}.",
//	    "Continue the adventure of {{hero}}.",
//	})
//	for _, e := range out.Entries() {
//	    fmt.Println(e.Index, e.Result)
//	}
package chain
