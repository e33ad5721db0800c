// Package pipeline is the HTTP client for the remote automation platform.
//
// The platform runs named pipelines ("saved items") on behalf of a caller
// identity. This package issues the two calls the gateway needs and maps
// every failure onto the domain error kinds. It holds no per-run state.
//
// # Start
//
// Body mode (default):
//
//	POST <base>/api/v1/start_pipeline
//	Authorization: Bearer <api_key>
//
//	{
//	  "user_id": "...",
//	  "saved_item_id": "<pipeline id>",
//	  "pipeline_inputs": [{"input_name": "link", "value": "<url>"}]
//	}
//
// Query mode sends user_id and saved_item_id as query parameters and the
// body {"link": "<url>"}.
//
// Both return {"run_id": "...", "url": "<tracking link>"}.
//
// # Status
//
//	GET <base>/api/v1/get_pl_run?run_id=<id>&user_id=<user>   (get_pl_run mode)
//	GET <base>/api/v1/runs/<id>                                (runs mode)
//
// returning {"state": "...", "outputs": {...}, "finished_ts": ..., "credit_cost": ...}.
package pipeline
