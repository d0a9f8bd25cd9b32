package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"

	"github.com/wasi-warden/warden/internal/capability"
	"github.com/wasi-warden/warden/internal/sandbox"
)

func (e *Executor) browserDisabled() error {
	if e.sb.Policy.BrowserEnabled() {
		return nil
	}
	return capability.Errf(capability.PermissionDenied, "browser capability disabled: no browser.webdriver_url configured")
}

type openSessionInput struct {
	Profile        string `json:"profile"`
	Headless       bool   `json:"headless"`
	AllowDownloads bool   `json:"allow_downloads"`
}

func (e *Executor) browserOpenSession(input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	if err := e.browserDisabled(); err != nil {
		return nil, 0, false, err
	}
	var in openSessionInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	profile := in.Profile
	if profile == "" {
		profile = e.sb.Policy.BrowserDefaultProfile
	}
	sess, err := capability.OpenSession(e.sb.Policy.BrowserWebDriverURL, profile, in.Headless, in.AllowDownloads)
	if err != nil {
		return nil, 0, false, err
	}
	h := e.sb.Handles.AddSession(sess)
	return jsonOutput(uint32(h)), h, true, nil
}

type gotoInput struct {
	Session   uint32 `json:"session"`
	URL       string `json:"url"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (e *Executor) browserGoto(ctx context.Context, input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in gotoInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	sess, err := e.session(in.Session)
	if err != nil {
		return nil, 0, false, err
	}
	if err := sess.Goto(ctx, in.URL, e.timeoutOrDefault(in.TimeoutMs)); err != nil {
		return nil, 0, false, err
	}
	return nil, 0, false, nil
}

type findInput struct {
	Session   uint32              `json:"session"`
	Selector  capability.Selector `json:"selector"`
	TimeoutMs int                 `json:"timeout_ms"`
}

func (e *Executor) browserFind(ctx context.Context, input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in findInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	sess, err := e.session(in.Session)
	if err != nil {
		return nil, 0, false, err
	}
	el, err := sess.Find(ctx, in.Selector, e.timeoutOrDefault(in.TimeoutMs))
	if err != nil {
		return nil, 0, false, err
	}
	h, err := e.sb.Handles.AddElement(sandbox.Handle(in.Session), el)
	if err != nil {
		return nil, 0, false, err
	}
	return jsonOutput(uint32(h)), h, true, nil
}

type elementInput struct {
	Element uint32 `json:"element"`
}

func (e *Executor) browserClick(_ context.Context, input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in elementInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	el, err := e.element(in.Element)
	if err != nil {
		return nil, 0, false, err
	}
	if err := capability.Click(el); err != nil {
		return nil, 0, false, err
	}
	return nil, 0, false, nil
}

type typeTextInput struct {
	Element uint32 `json:"element"`
	Text    string `json:"text"`
	Submit  bool   `json:"submit"`
}

func (e *Executor) browserTypeText(_ context.Context, input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in typeTextInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	el, err := e.element(in.Element)
	if err != nil {
		return nil, 0, false, err
	}
	if err := capability.TypeText(el, in.Text, in.Submit); err != nil {
		return nil, 0, false, err
	}
	return nil, 0, false, nil
}

func (e *Executor) browserInnerText(_ context.Context, input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in elementInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	el, err := e.element(in.Element)
	if err != nil {
		return nil, 0, false, err
	}
	text, err := capability.InnerText(el)
	if err != nil {
		return nil, 0, false, err
	}
	return jsonOutput(text), 0, false, nil
}

type describePageInput struct {
	Session     uint32 `json:"session"`
	IncludeHTML bool   `json:"include_html"`
}

func (e *Executor) browserDescribePage(_ context.Context, input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in describePageInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	sess, err := e.session(in.Session)
	if err != nil {
		return nil, 0, false, err
	}
	desc, err := sess.DescribePage(in.IncludeHTML)
	if err != nil {
		return nil, 0, false, err
	}
	return jsonOutput(desc), 0, false, nil
}

type screenshotInput struct {
	Session uint32 `json:"session"`
	Kind    string `json:"kind"`
}

func (e *Executor) browserScreenshot(_ context.Context, input json.RawMessage, alias string) (json.RawMessage, sandbox.Handle, bool, error) {
	var in screenshotInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	sess, err := e.session(in.Session)
	if err != nil {
		return nil, 0, false, err
	}
	data, err := sess.Screenshot(in.Kind)
	if err != nil {
		return nil, 0, false, err
	}
	e.sb.Handles.StoreScreenshot(alias, data)
	return jsonOutput(len(data)), 0, false, nil
}

func (e *Executor) session(h uint32) (*capability.Session, error) {
	raw, err := e.sb.Handles.Session(sandbox.Handle(h))
	if err != nil {
		return nil, err
	}
	sess, ok := raw.(*capability.Session)
	if !ok {
		return nil, capability.Errf(capability.SchemaError, "handle %d is not a browser session", h)
	}
	return sess, nil
}

func (e *Executor) element(h uint32) (*rod.Element, error) {
	raw, err := e.sb.Handles.Element(sandbox.Handle(h))
	if err != nil {
		return nil, err
	}
	el, ok := raw.(*rod.Element)
	if !ok {
		return nil, capability.Errf(capability.SchemaError, "handle %d is not a browser element", h)
	}
	return el, nil
}

func (e *Executor) timeoutOrDefault(ms int) time.Duration {
	if ms <= 0 {
		return e.sb.Policy.PerActionTimeout()
	}
	return time.Duration(ms) * time.Millisecond
}
