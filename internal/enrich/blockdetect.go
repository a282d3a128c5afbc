package enrich

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected on a detail page.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockLogin      BlockType = "login"
)

// DetectBlock checks a detail-page response for anti-bot walls and session
// redirects that would otherwise parse as a page with no contacts.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "captcha") {
		return true, BlockCaptcha
	}

	// Expired portal sessions land on a small login form.
	if len(body) < 4000 && strings.Contains(lower, `type="password"`) {
		return true, BlockLogin
	}

	return false, BlockNone
}
