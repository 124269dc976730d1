package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"taskboard/internal/broadcast"
	"taskboard/internal/engine"
)

// registerStream exposes automation notices for one project as server-sent events.
func registerStream(api huma.API, e engine.Engine, hub *broadcast.Hub) {
	sse.Register(api, huma.Operation{
		OperationID: "project-stream",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stream",
		Summary:     "Live automation notices for a project",
	}, map[string]any{
		broadcast.AutomationTriggered: broadcast.Message{},
		"error":                       apiErrorBody{},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}, send sse.Sender) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			_ = send.Data(apiErrorBody{Code: "unauthorized", Message: authErr.Error()})
			return
		}
		if _, err := e.ProjectForActor(ctx, input.ProjectID, userID); err != nil {
			se := handleError(err)
			msg := apiErrorBody{Code: defaultCodeForStatus(se.GetStatus()), Message: se.Error()}
			if ae, ok := se.(*apiError); ok {
				msg = ae.Body
			}
			_ = send.Data(msg)
			return
		}

		ch, cancel := hub.Subscribe(input.ProjectID)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := send.Data(msg); err != nil {
					return
				}
			}
		}
	})
}
