package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pavelanni/tayyari/internal/model"
)

type unsplashSearch struct {
	Results []struct {
		Description    *string `json:"description"`
		AltDescription *string `json:"alt_description"`
		URLs           struct {
			Regular string `json:"regular"`
		} `json:"urls"`
		User struct {
			Name  string `json:"name"`
			Links struct {
				HTML string `json:"html"`
			} `json:"links"`
		} `json:"user"`
	} `json:"results"`
}

// SearchImage returns the first landscape photo matching query, or an
// ImageResult with a nil ImageURL when nothing matched.
func (c *Client) SearchImage(ctx context.Context, query string) (model.ImageResult, error) {
	const endpoint = model.EndpointSearchImage
	if c.unsplashKey == "" {
		return model.ImageResult{}, &model.GatewayError{Endpoint: endpoint, Err: ErrNoAPIKey}
	}

	params := url.Values{
		"query":       {query},
		"per_page":    {"1"},
		"orientation": {"landscape"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.unsplashURL+"/search/photos?"+params.Encode(), nil)
	if err != nil {
		return model.ImageResult{}, &model.GatewayError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "Client-ID "+c.unsplashKey)

	var resp unsplashSearch
	if err := c.do(endpoint, req, &resp); err != nil {
		return model.ImageResult{}, err
	}
	if len(resp.Results) == 0 {
		return model.ImageResult{}, nil
	}

	img := resp.Results[0]
	imageURL := img.URLs.Regular
	return model.ImageResult{
		ImageURL:        &imageURL,
		Description:     firstNonEmpty(img.AltDescription, img.Description, &query),
		Photographer:    img.User.Name,
		PhotographerURL: img.User.Links.HTML,
	}, nil
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

// statusCode accepts both numeric and quoted status values; the translation
// API uses either.
type statusCode int

func (s *statusCode) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse status %s: %w", b, err)
	}
	*s = statusCode(n)
	return nil
}

type myMemoryResponse struct {
	ResponseStatus  statusCode `json:"responseStatus"`
	ResponseDetails string     `json:"responseDetails"`
	ResponseData    struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
}

// TranslateText translates English text into targetLang.
func (c *Client) TranslateText(ctx context.Context, text, targetLang string) (string, error) {
	const endpoint = model.EndpointTranslateText

	params := url.Values{
		"q":        {text},
		"langpair": {"en|" + targetLang},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.translateURL+"/get?"+params.Encode(), nil)
	if err != nil {
		return "", &model.GatewayError{Endpoint: endpoint, Err: err}
	}

	var resp myMemoryResponse
	if err := c.do(endpoint, req, &resp); err != nil {
		return "", err
	}
	if resp.ResponseStatus != http.StatusOK || resp.ResponseData.TranslatedText == "" {
		detail := resp.ResponseDetails
		if detail == "" {
			detail = "empty translation"
		}
		return "", &model.GatewayError{
			Endpoint:   endpoint,
			StatusCode: int(resp.ResponseStatus),
			Err:        errors.New(detail),
		}
	}
	return resp.ResponseData.TranslatedText, nil
}
