package pipeline

import (
	"context"
	"log/slog"

	"github.com/tidemarklabs/tidemark/pkg/metrics"
	"github.com/tidemarklabs/tidemark/pkg/warehouse"
)

// notify sends the batch to the agent and returns its reply. An empty batch
// short-circuits without touching the agent. Failures substitute the fallback
// reply and mark the run degraded; they never abort it.
func (p *Pipeline) notify(ctx context.Context, log *slog.Logger, batch warehouse.Batch) (reply string, degraded bool) {
	if batch.Count == 0 {
		log.Info("pipeline: no new entries, skipping agent")
		metrics.AgentRequestsTotal.WithLabelValues("skipped_empty").Inc()
		return EmptyBatchReply, false
	}

	prompt, err := BuildPrompt(batch.Records)
	if err != nil {
		log.Error("pipeline: failed to build agent prompt, using fallback reply", "error", err)
		metrics.AgentRequestsTotal.WithLabelValues("error").Inc()
		return FallbackReply, true
	}

	log.Info("pipeline: notifying agent", "count", batch.Count, "promptLen", len(prompt))

	reply, err = p.cfg.Agent.Complete(ctx, prompt)
	if err != nil {
		log.Error("pipeline: agent call failed, using fallback reply", "error", err)
		metrics.AgentRequestsTotal.WithLabelValues("error").Inc()
		return FallbackReply, true
	}

	metrics.AgentRequestsTotal.WithLabelValues("ok").Inc()
	log.Info("pipeline: agent replied", "replyLen", len(reply))
	return reply, false
}
