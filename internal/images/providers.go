package images

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Candidate is one image found by a provider.
type Candidate struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	ThumbURL     string `json:"thumb_url"`
	DownloadURL  string `json:"download_url"`
	AltText      string `json:"alt_text"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Source       string `json:"source"`
	Photographer string `json:"photographer"`
}

// Provider searches one stock-photo API.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("image search returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// --- Unsplash ---

type unsplashProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewUnsplash(apiKey, baseURL string, client *http.Client) Provider {
	if baseURL == "" {
		baseURL = "https://api.unsplash.com"
	}
	return &unsplashProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (p *unsplashProvider) Name() string { return "unsplash" }

func (p *unsplashProvider) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	u := p.baseURL + "/search/photos?" + url.Values{
		"query":       {query},
		"per_page":    {strconv.Itoa(limit)},
		"orientation": {"landscape"},
	}.Encode()

	var data struct {
		Results []struct {
			ID   string `json:"id"`
			URLs struct {
				Regular string `json:"regular"`
				Thumb   string `json:"thumb"`
			} `json:"urls"`
			Links struct {
				Download string `json:"download"`
			} `json:"links"`
			AltDescription string `json:"alt_description"`
			Width          int    `json:"width"`
			Height         int    `json:"height"`
			User           struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"results"`
	}
	if err := getJSON(ctx, p.client, u, map[string]string{"Authorization": "Client-ID " + p.apiKey}, &data); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, photo := range data.Results {
		alt := photo.AltDescription
		if alt == "" {
			alt = query
		}
		out = append(out, Candidate{
			ID:           photo.ID,
			URL:          photo.URLs.Regular,
			ThumbURL:     photo.URLs.Thumb,
			DownloadURL:  photo.Links.Download,
			AltText:      alt,
			Width:        photo.Width,
			Height:       photo.Height,
			Source:       "unsplash",
			Photographer: photo.User.Name,
		})
	}
	return out, nil
}

// --- Pexels ---

type pexelsProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewPexels(apiKey, baseURL string, client *http.Client) Provider {
	if baseURL == "" {
		baseURL = "https://api.pexels.com"
	}
	return &pexelsProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (p *pexelsProvider) Name() string { return "pexels" }

func (p *pexelsProvider) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	u := p.baseURL + "/v1/search?" + url.Values{
		"query":    {query},
		"per_page": {strconv.Itoa(limit)},
	}.Encode()

	var data struct {
		Photos []struct {
			ID  int `json:"id"`
			Src struct {
				Original string `json:"original"`
				Large    string `json:"large"`
				Tiny     string `json:"tiny"`
			} `json:"src"`
			Alt          string `json:"alt"`
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			Photographer string `json:"photographer"`
		} `json:"photos"`
	}
	if err := getJSON(ctx, p.client, u, map[string]string{"Authorization": p.apiKey}, &data); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, photo := range data.Photos {
		alt := photo.Alt
		if alt == "" {
			alt = query
		}
		out = append(out, Candidate{
			ID:           strconv.Itoa(photo.ID),
			URL:          photo.Src.Large,
			ThumbURL:     photo.Src.Tiny,
			DownloadURL:  photo.Src.Original,
			AltText:      alt,
			Width:        photo.Width,
			Height:       photo.Height,
			Source:       "pexels",
			Photographer: photo.Photographer,
		})
	}
	return out, nil
}

// --- Pixabay ---

type pixabayProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewPixabay(apiKey, baseURL string, client *http.Client) Provider {
	if baseURL == "" {
		baseURL = "https://pixabay.com"
	}
	return &pixabayProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (p *pixabayProvider) Name() string { return "pixabay" }

func (p *pixabayProvider) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	u := p.baseURL + "/api/?" + url.Values{
		"key":        {p.apiKey},
		"q":          {query},
		"per_page":   {strconv.Itoa(limit)},
		"image_type": {"photo"},
	}.Encode()

	var data struct {
		Hits []struct {
			ID            int    `json:"id"`
			LargeImageURL string `json:"largeImageURL"`
			PreviewURL    string `json:"previewURL"`
			ImageWidth    int    `json:"imageWidth"`
			ImageHeight   int    `json:"imageHeight"`
			Tags          string `json:"tags"`
			User          string `json:"user"`
		} `json:"hits"`
	}
	if err := getJSON(ctx, p.client, u, nil, &data); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, hit := range data.Hits {
		alt := hit.Tags
		if alt == "" {
			alt = query
		}
		out = append(out, Candidate{
			ID:           strconv.Itoa(hit.ID),
			URL:          hit.LargeImageURL,
			ThumbURL:     hit.PreviewURL,
			DownloadURL:  hit.LargeImageURL,
			AltText:      alt,
			Width:        hit.ImageWidth,
			Height:       hit.ImageHeight,
			Source:       "pixabay",
			Photographer: hit.User,
		})
	}
	return out, nil
}
