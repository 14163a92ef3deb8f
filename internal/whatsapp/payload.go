package whatsapp

import (
	"github.com/fleetwire/fleetrelay/internal/message"
)

// WhatsApp caps interactive reply buttons at three; beyond that the message
// must be sent as a list.
const maxReplyButtons = 3

// BuildRequest translates a rendered message into a Cloud API send request.
// Messages without eligible buttons go out as plain text (header and footer
// folded into the body, since text messages have a single field). Messages
// with up to three buttons become interactive button messages; more than
// three become an interactive list.
func BuildRequest(to string, rendered *message.RenderedMessage) SendMessageRequest {
	req := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
	}

	if len(rendered.Buttons) == 0 {
		req.Type = "text"
		req.Text = &SendText{Body: flattenText(rendered)}
		return req
	}

	req.Type = "interactive"
	interactive := &Interactive{
		Body: InteractiveBody{Text: rendered.Body},
	}
	if rendered.Header != "" {
		interactive.Header = &InteractiveHeader{Type: "text", Text: rendered.Header}
	}
	if rendered.Footer != "" {
		interactive.Footer = &InteractiveFooter{Text: rendered.Footer}
	}

	if len(rendered.Buttons) <= maxReplyButtons && !hasListItems(rendered.Buttons) {
		interactive.Type = "button"
		for _, b := range rendered.Buttons {
			interactive.Action.Buttons = append(interactive.Action.Buttons, Button{
				Type:  "reply",
				Reply: ButtonReply{ID: b.Payload, Title: b.Text},
			})
		}
	} else {
		interactive.Type = "list"
		interactive.Action.Button = "Options"
		section := Section{}
		for _, b := range rendered.Buttons {
			section.Rows = append(section.Rows, SectionRow{
				ID:    b.Payload,
				Title: b.Text,
			})
		}
		interactive.Action.Sections = []Section{section}
	}

	req.Interactive = interactive
	return req
}

func flattenText(rendered *message.RenderedMessage) string {
	text := rendered.Body
	if rendered.Header != "" {
		text = rendered.Header + "\n\n" + text
	}
	if rendered.Footer != "" {
		text = text + "\n\n" + rendered.Footer
	}
	return text
}

func hasListItems(buttons []message.RenderedButton) bool {
	for _, b := range buttons {
		if b.Type == message.ButtonListItem {
			return true
		}
	}
	return false
}
