package wa

import (
	"github.com/deskhub/pkg/protocol"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func convertMessage(evt *events.Message) protocol.InboundMessage {
	info := evt.Info
	out := protocol.InboundMessage{
		ID:            string(info.ID),
		RemoteAddress: remoteAddress(info.MessageSource).String(),
		FromMe:        info.IsFromMe,
		PushName:      info.PushName,
		Timestamp:     info.Timestamp,
	}
	if info.IsGroup {
		out.Participant = info.Sender.ToNonAD().String()
	}

	msg := evt.Message
	if msg == nil {
		out.StatusOnly = true
		return out
	}

	switch {
	case msg.GetConversation() != "":
		out.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		out.Body = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		m := msg.GetImageMessage()
		out.Body = m.GetCaption()
		out.MediaKind, out.MediaMime, out.Media = "image", m.GetMimetype(), m
	case msg.GetVideoMessage() != nil:
		m := msg.GetVideoMessage()
		out.Body = m.GetCaption()
		out.MediaKind, out.MediaMime, out.Media = "video", m.GetMimetype(), m
	case msg.GetAudioMessage() != nil:
		m := msg.GetAudioMessage()
		out.MediaKind, out.MediaMime, out.Media = "audio", m.GetMimetype(), m
	case msg.GetDocumentMessage() != nil:
		m := msg.GetDocumentMessage()
		out.Body = m.GetCaption()
		out.MediaKind, out.MediaMime, out.Media = "document", m.GetMimetype(), m
		out.MediaName = m.GetFileName()
	case msg.GetStickerMessage() != nil:
		m := msg.GetStickerMessage()
		out.MediaKind, out.MediaMime, out.Media = "sticker", m.GetMimetype(), m
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		out.Body = loc.GetName()
		out.MediaKind = "location"
	case msg.GetContactMessage() != nil:
		out.Body = msg.GetContactMessage().GetDisplayName()
		out.MediaKind = "vcard"
	default:
		// protocol, reaction, key distribution and friends
		out.StatusOnly = true
	}
	return out
}

// remoteAddress is the chat JID, except for direct chats addressed by LID
// where the phone number JID is used when whatsmeow knows it, so contacts
// keep their number.
func remoteAddress(src waTypes.MessageSource) waTypes.JID {
	chat := src.Chat.ToNonAD()
	if src.IsGroup || chat.Server != waTypes.HiddenUserServer {
		return chat
	}
	alt := src.SenderAlt
	if src.IsFromMe {
		alt = src.RecipientAlt
	}
	if alt.Server == waTypes.DefaultUserServer {
		return alt.ToNonAD()
	}
	return chat
}
