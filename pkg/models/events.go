package models

// Server-to-client event names. Payload shapes are the models in this
// package; todo events always carry the full task object.
const (
	EventTaskCreated   = "todo:created"
	EventTaskUpdated   = "todo:updated"
	EventTaskDeleted   = "todo:deleted"
	EventTaskReordered = "todo:reordered"

	EventPresenceOnline  = "presence:online"
	EventPresenceOffline = "presence:offline"
	EventPresenceTyping  = "presence:typing"

	EventActivityFeed = "activity:feed"
	EventNotification = "notification"
)

// RoomUser is the broadcast scope covering all of one user's devices.
func RoomUser(userID string) string {
	return "user:" + userID
}

// RoomUserCategory is the filtered sub-room for a category subscription.
func RoomUserCategory(userID, categoryID string) string {
	return "user:" + userID + ":category:" + categoryID
}
