package notify

import "github.com/lalithlochan/carecircle/internal/worker"

type pushStyle struct {
	screen    string
	color     string
	channelID string
	priority  string
}

var styles = map[string]pushStyle{
	KindCheckInUpcoming:  {screen: "CheckIn", color: "#2E7D32", channelID: "reminders", priority: "high"},
	KindCheckInMissed:    {screen: "CheckIn", color: "#D32F2F", channelID: "alerts", priority: "high"},
	KindRoutineUpcoming:  {screen: "Routines", color: "#1565C0", channelID: "reminders", priority: "normal"},
	KindReminderUpcoming: {screen: "Reminders", color: "#1565C0", channelID: "reminders", priority: "high"},
	KindReminderMissed:   {screen: "Reminders", color: "#D32F2F", channelID: "alerts", priority: "high"},
	KindAlert:            {screen: "Alerts", color: "#D32F2F", channelID: "alerts", priority: "high"},
}

// BuildPush renders the push payload for notice.
func BuildPush(notice Notice, tokens []string) worker.PushPayload {
	style, ok := styles[notice.Kind]
	if !ok {
		style = pushStyle{screen: "Home", color: "#424242", priority: "normal"}
	}

	data := map[string]string{
		"type":     notice.Kind,
		"screen":   style.screen,
		"seniorId": notice.SeniorID.String(),
		"entityId": notice.EntityID.String(),
	}
	if notice.Slot != "" {
		data["slot"] = notice.Slot
	}
	for k, v := range notice.Data {
		data[k] = v
	}

	return worker.PushPayload{
		Notification: worker.PushNotification{Title: notice.Title, Body: notice.Body},
		Data:         data,
		Android: worker.AndroidConfig{
			Priority: style.priority,
			Notification: worker.AndroidNotification{
				Sound:     "default",
				Color:     style.color,
				ChannelID: style.channelID,
			},
		},
		Tokens: tokens,
	}
}
