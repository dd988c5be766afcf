/*
Package tether is a conversational task orchestrator.

A chat session is routed by a language model into one of two task domains
(pipeline or medical). When the classified topic changes mid-session the
session suspends with a confirmation question and resumes with the user's
answer. In the pipeline domain the conversation collects the arguments of a
sequencing analysis task; once complete, the task runs through nine stages,
each supervised by a retry/escalation machine that suspends for a human after
repeated failures.

Every run is a graph executed by the generic executor in pkg/graph. State is
checkpointed at turn boundaries into a pluggable store (memory, file or
Redis) and pending questions live in an interrupt registry, so any process
sharing the store can resume a session.

# Usage

App wires a configuration into the router and the supervisor:

	cfg, err := config.Load("tether.yaml", ".env")
	if err != nil {
		log.Fatal(err)
	}
	app, err := tether.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	reply, err := app.Router.Submit(ctx, dialogue.Turn{Message: "start project STING_UNLOCK"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(reply.Content)

	run, err := app.StartPipeline(ctx, reply.SessionID, "")
	if err != nil {
		log.Fatal(err)
	}
	if run.Intervention != nil {
		run, err = app.Supervisor.Unblock(ctx, run.RunID, "restarted the download mirror")
	}

App.Handler exposes the same operations over HTTP, and Runner drives a
session from a terminal.
*/
package tether
