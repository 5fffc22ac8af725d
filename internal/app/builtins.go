package app

import (
	"context"
	"fmt"

	"pulsebot/pkg/logx"
)

// Built-in cron handlers available to every schedule.
//
//   - "log": writes the payload to the log. Useful as a smoke-test target
//     and as a schedule that only exists for its history trail.
//   - "heartbeat.fire": triggers one heartbeat for the config named by the
//     "config_id" payload key, bridging cron timing onto heartbeat behaviors.
func (a *App) registerBuiltins() {
	a.sched.RegisterHandler("log", func(_ context.Context, payload map[string]any) (map[string]any, error) {
		a.log.Info("scheduled log", logx.Any("payload", payload))
		return map[string]any{"logged": true}, nil
	})

	a.sched.RegisterHandler("heartbeat.fire", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		id, _ := payload["config_id"].(string)
		if id == "" {
			return nil, fmt.Errorf("heartbeat.fire: payload key config_id required")
		}
		res, err := a.hb.ExecuteNow(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("heartbeat.fire %s: %w", id, err)
		}

		actions := 0
		failures := 0
		for _, br := range res.Behaviors {
			actions += len(br.Actions)
			if br.Error != "" {
				failures++
			}
		}
		return map[string]any{
			"config_id": res.ConfigID,
			"behaviors": len(res.Behaviors),
			"actions":   actions,
			"failures":  failures,
		}, nil
	})
}
