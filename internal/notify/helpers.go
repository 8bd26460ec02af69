package notify

import (
	"context"
)

// NotifyMissionCompleted announces a completed mission on every channel
func (m *Manager) NotifyMissionCompleted(ctx context.Context, missionID, userID, goal string, cost int64) {
	m.Dispatch(ctx, nil, "", string(NotificationTypeMissionCompleted), map[string]any{
		"mission_id": missionID,
		"user_id":    userID,
		"goal":       goal,
		"cost":       cost,
	})
}

// NotifyMissionFailed announces a failed mission on every channel
func (m *Manager) NotifyMissionFailed(ctx context.Context, missionID, userID, goal, reason string, cost int64) {
	m.Dispatch(ctx, nil, "", string(NotificationTypeMissionFailed), map[string]any{
		"mission_id": missionID,
		"user_id":    userID,
		"goal":       goal,
		"reason":     reason,
		"cost":       cost,
	})
}

// NotifyInfo sends a general informational notification
func (m *Manager) NotifyInfo(ctx context.Context, title, message string) {
	m.Dispatch(ctx, nil, "", string(NotificationTypeInfo), map[string]any{
		"title":   title,
		"message": message,
	})
}
