package api

import (
	"aurora-backend/internal/chat"
	"aurora-backend/internal/identity"
	"aurora-backend/pkg/api"
)

func convertUser(id identity.Identity) api.User {
	return api.User{
		Id:          id.Id,
		DisplayName: id.DisplayName,
		Email:       id.Email,
		AvatarURL:   id.AvatarURL,
	}
}

func convertChatSession(c chat.ChatSession) api.ChatSession {
	return api.ChatSession{
		Id:        c.Id,
		Title:     c.Title,
		Label:     c.Label(),
		CreatedAt: c.CreatedAt,
	}
}

func convertChatSessions(cs []chat.ChatSession) []api.ChatSession {
	sessions := make([]api.ChatSession, 0, len(cs))
	for _, c := range cs {
		sessions = append(sessions, convertChatSession(c))
	}
	return sessions
}

func convertMessage(m chat.Message) api.Message {
	return api.Message{
		Id:        m.Id,
		ChatId:    m.ChatId,
		Role:      string(m.Role),
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Metadata:  m.Metadata,
	}
}

func convertMessages(ms []chat.Message) []api.Message {
	messages := make([]api.Message, 0, len(ms))
	for _, m := range ms {
		messages = append(messages, convertMessage(m))
	}
	return messages
}

func convertView(v chat.View) *api.View {
	view := &api.View{
		Chats:         convertChatSessions(v.Chats),
		CurrentChatId: v.CurrentChatId,
		Messages:      convertMessages(v.Messages),
		Draft:         v.Draft,
		Partial:       v.Partial,
		Error:         v.Error,
		TurnInFlight:  v.TurnInFlight,
	}
	if v.User != nil {
		user := convertUser(*v.User)
		view.User = &user
	}
	return view
}
