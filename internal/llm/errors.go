package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// ErrNoCredential is returned when neither the request nor the environment
// provides a usable key for the provider.
var ErrNoCredential = errors.New("no usable API key")

// ErrorKind groups provider failures by how callers must react to them.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindNoCredential  ErrorKind = "no_credential"
	KindQuota         ErrorKind = "insufficient_quota"
	KindModelNotFound ErrorKind = "model_not_found"
	KindOther         ErrorKind = "other"
)

// Classify maps a provider error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrNoCredential) {
		return KindNoCredential
	}

	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		code := ""
		if oaErr.Code != nil {
			code = fmt.Sprint(oaErr.Code)
		}
		switch {
		case code == "insufficient_quota" || oaErr.Type == "insufficient_quota":
			return KindQuota
		case code == "model_not_found":
			return KindModelNotFound
		}
		return KindOther
	}

	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		msg := strings.ToLower(anErr.Error())
		switch {
		case strings.Contains(msg, "credit balance") || strings.Contains(msg, "billing"):
			return KindQuota
		case anErr.StatusCode == http.StatusNotFound && strings.Contains(msg, "model"):
			return KindModelNotFound
		}
		return KindOther
	}

	return KindOther
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch Classify(err) {
	case KindNoCredential, KindQuota, KindModelNotFound:
		return false
	}
	return true
}
