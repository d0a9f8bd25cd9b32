package capability

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Session owns one WebDriver (CDP) browser session. It is a thin proxy: the
// host's value is resource-handle bookkeeping, not reimplementing the wire
// protocol (§4.2.3).
type Session struct {
	browser *rod.Browser
	page    *rod.Page
}

// OpenSession connects to the configured CDP endpoint and opens one page.
// allowDownloads, when false, denies the browser's download behavior
// outright rather than leaving it at the remote's default.
func OpenSession(webdriverURL, profile string, headless, allowDownloads bool) (*Session, error) {
	browser := rod.New().ControlURL(webdriverURL)
	if err := browser.Connect(); err != nil {
		return nil, Errf(ExternalFailure, "open_session: connect failed: %v", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, Errf(ExternalFailure, "open_session: create page failed: %v", err)
	}

	behavior := proto.BrowserSetDownloadBehaviorBehaviorDeny
	if allowDownloads {
		behavior = proto.BrowserSetDownloadBehaviorBehaviorAllow
	}
	_ = proto.BrowserSetDownloadBehavior{Behavior: behavior}.Call(page)

	return &Session{browser: browser, page: page}, nil
}

// Close implements sandbox.BrowserSession: it closes the page and the
// underlying browser connection.
func (s *Session) Close() error {
	_ = s.page.Close()
	return s.browser.Close()
}

// Goto navigates the session's page to url within timeout.
func (s *Session) Goto(ctx context.Context, url string, timeout time.Duration) error {
	page := s.page.Context(ctx).Timeout(timeout)
	if err := page.Navigate(url); err != nil {
		return navErr(err)
	}
	if err := page.WaitLoad(); err != nil {
		return navErr(err)
	}
	return nil
}

func navErr(err error) error {
	if err == context.DeadlineExceeded {
		return Errf(Timeout, "goto timed out")
	}
	return Errf(ExternalFailure, "goto failed: %v", err)
}

// Selector is the tagged variant §4.2.3 specifies for find().
type Selector struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Find locates exactly one element via CSS or XPath.
func (s *Session) Find(ctx context.Context, sel Selector, timeout time.Duration) (*rod.Element, error) {
	page := s.page.Context(ctx).Timeout(timeout)
	var el *rod.Element
	var err error
	switch sel.Kind {
	case "css":
		el, err = page.Element(sel.Value)
	case "xpath":
		el, err = page.ElementX(sel.Value)
	default:
		return nil, Errf(SchemaError, "unknown selector kind %q", sel.Kind)
	}
	if err != nil {
		if err == context.DeadlineExceeded {
			return nil, Errf(Timeout, "find timed out")
		}
		return nil, Errf(NotFound, "find failed: %v", err)
	}
	return el, nil
}

// Click clicks el with the primary mouse button.
func Click(el *rod.Element) error {
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return Errf(ExternalFailure, "click failed: %v", err)
	}
	return nil
}

// TypeText enters text into el, optionally submitting via Enter afterward.
func TypeText(el *rod.Element, text string, submit bool) error {
	if err := el.Input(text); err != nil {
		return Errf(ExternalFailure, "type_text failed: %v", err)
	}
	if submit {
		if err := el.Type(13 /* Enter */); err != nil {
			return Errf(ExternalFailure, "type_text submit failed: %v", err)
		}
	}
	return nil
}

// InnerText returns el's rendered text content.
func InnerText(el *rod.Element) (string, error) {
	text, err := el.Text()
	if err != nil {
		return "", Errf(ExternalFailure, "inner_text failed: %v", err)
	}
	return text, nil
}

// PageDescription is the result of describe_page.
type PageDescription struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	HTML  string `json:"html,omitempty"`
}

// DescribePage reports the session's current URL, title, and optionally a
// DOM snapshot.
func (s *Session) DescribePage(includeHTML bool) (PageDescription, error) {
	info, err := s.page.Info()
	if err != nil {
		return PageDescription{}, Errf(ExternalFailure, "describe_page failed: %v", err)
	}
	desc := PageDescription{URL: info.URL, Title: info.Title}
	if includeHTML {
		html, err := s.page.HTML()
		if err != nil {
			return PageDescription{}, Errf(ExternalFailure, "describe_page html failed: %v", err)
		}
		desc.HTML = html
	}
	return desc, nil
}

// screenshotMaxWidth bounds the processed screenshot so a single capture
// cannot balloon the audit/observation payload.
const screenshotMaxWidth = 1280

// screenshotJPEGQuality is used whenever kind requests JPEG re-encoding.
const screenshotJPEGQuality = 85

// Screenshot captures the page, downsamples it with imaging to bound its
// size, and re-encodes it as the requested kind ("png" or "jpeg", default
// "png"). Retrieval of the stored bytes by the guest is out of scope
// (§4.2.3); the host only needs the bytes long enough to store them under
// the action's alias.
func (s *Session) Screenshot(kind string) ([]byte, error) {
	raw, err := s.page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, Errf(ExternalFailure, "screenshot failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, Errf(ExternalFailure, "screenshot decode failed: %v", err)
	}
	if img.Bounds().Dx() > screenshotMaxWidth {
		img = imaging.Resize(img, screenshotMaxWidth, 0, imaging.Lanczos)
	}

	return encodeScreenshot(img, kind)
}

func encodeScreenshot(img image.Image, kind string) ([]byte, error) {
	var buf bytes.Buffer
	switch kind {
	case "", "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, Errf(ExternalFailure, "screenshot encode failed: %v", err)
		}
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: screenshotJPEGQuality}); err != nil {
			return nil, Errf(ExternalFailure, "screenshot encode failed: %v", err)
		}
	default:
		return nil, Errf(SchemaError, "unsupported screenshot kind %q", kind)
	}
	return buf.Bytes(), nil
}
