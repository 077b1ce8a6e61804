package relay

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"aksara/backend/internal/gemini"
	"aksara/backend/internal/openaicompat"
	"aksara/backend/internal/provider"
)

const (
	roleUser      = "user"
	roleModel     = "model"
	roleAssistant = "assistant"
	roleSystem    = "system"
)

type inlineImage struct {
	MimeType string
	Data     string // base64, no data URI header
}

func (i inlineImage) dataURI() string {
	return "data:" + i.MimeType + ";base64," + i.Data
}

// turn is a validated request bound to its upstream target.
type turn struct {
	model  string
	target provider.Target
	text   string
	image  *inlineImage
	req    Request
}

func (s *Service) prepare(req Request) (turn, *Failure) {
	text := strings.TrimSpace(req.Message)
	rawImage := strings.TrimSpace(req.ImageData)
	if text == "" && rawImage == "" {
		return turn{}, validationFailure(errEmptyMessage)
	}

	var image *inlineImage
	if rawImage != "" {
		parsed, err := parseImage(rawImage)
		if err != nil {
			return turn{}, validationFailure(err)
		}
		image = &parsed
	}

	model := s.ModelID(req.Model)
	target, err := provider.Resolve(model, s.creds)
	if err != nil {
		return turn{}, configurationFailure(err)
	}

	return turn{model: model, target: target, text: text, image: image, req: req}, nil
}

// parseImage accepts a data URI or bare base64 payload. When the URI does not
// name a MIME type it is sniffed from the decoded bytes.
func parseImage(raw string) (inlineImage, error) {
	mimeType := ""
	data := raw

	if strings.HasPrefix(raw, "data:") {
		header, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
		if !ok {
			return inlineImage{}, errInvalidImage
		}
		params := strings.Split(header, ";")
		if !containsFold(params[1:], "base64") {
			return inlineImage{}, errInvalidImage
		}
		mimeType = strings.ToLower(strings.TrimSpace(params[0]))
		data = payload
	}

	data = strings.TrimSpace(data)
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return inlineImage{}, fmt.Errorf("%w: %v", errInvalidImage, err)
	}
	if len(decoded) == 0 {
		return inlineImage{}, errInvalidImage
	}

	if mimeType == "" {
		mimeType = strings.SplitN(http.DetectContentType(decoded), ";", 2)[0]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return inlineImage{}, fmt.Errorf("%w: unsupported type %s", errInvalidImage, mimeType)
	}

	return inlineImage{MimeType: mimeType, Data: data}, nil
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}

func (t turn) geminiRequest() gemini.GenerateRequest {
	contents := make([]gemini.Content, 0, len(t.req.History)+1)
	for _, m := range t.req.History {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		role := roleModel
		if m.IsUser {
			role = roleUser
		}
		contents = append(contents, gemini.Content{Role: role, Parts: []gemini.Part{{Text: text}}})
	}

	parts := make([]gemini.Part, 0, 2)
	if t.text != "" {
		parts = append(parts, gemini.Part{Text: t.text})
	}
	if t.image != nil {
		parts = append(parts, gemini.Part{InlineData: &gemini.Blob{MimeType: t.image.MimeType, Data: t.image.Data}})
	}
	contents = append(contents, gemini.Content{Role: roleUser, Parts: parts})

	out := gemini.GenerateRequest{Contents: contents}
	if prompt := strings.TrimSpace(t.req.SystemPrompt); prompt != "" {
		out.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: prompt}}}
	}
	if t.req.UseSearch {
		out.Tools = []gemini.Tool{{GoogleSearch: &gemini.GoogleSearch{}}}
	}
	return out
}

func (t turn) chatRequest() openaicompat.Request {
	messages := make([]openaicompat.Message, 0, len(t.req.History)+2)
	if prompt := strings.TrimSpace(t.req.SystemPrompt); prompt != "" {
		messages = append(messages, openaicompat.Message{Role: roleSystem, Content: prompt})
	}
	for _, m := range t.req.History {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		role := roleAssistant
		if m.IsUser {
			role = roleUser
		}
		messages = append(messages, openaicompat.Message{Role: role, Content: text})
	}

	next := openaicompat.Message{Role: roleUser, Content: t.text}
	if t.image != nil {
		next.ImageURL = t.image.dataURI()
	}
	messages = append(messages, next)

	return openaicompat.Request{Messages: messages}
}
