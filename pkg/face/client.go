// Package face talks to the cloud face recognition service, tracks faces
// locally with YuNet and coordinates recognition with the identity
// interpolator.
package face

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-robbie/internal/httpc"
	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/identity"
)

// Config holds the face service settings.
type Config struct {
	// Endpoint is the service root, e.g.
	// https://westeurope.api.cognitive.microsoft.com/face/v1.0
	Endpoint string
	Key      string

	GroupID   string
	GroupName string

	// GroupMembers are "|" separated names seeded into a new group.
	GroupMembers string

	// TrainPollInterval is the pause between training status checks.
	TrainPollInterval time.Duration

	Timeout time.Duration
}

// DefaultConfig returns the default face service settings.
func DefaultConfig() Config {
	return Config{
		Endpoint:          "https://westeurope.api.cognitive.microsoft.com/face/v1.0",
		GroupID:           "robbie",
		GroupName:         "Robbie",
		TrainPollInterval: time.Second,
		Timeout:           15 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Key == "" {
		return ErrMissingKey
	}
	if c.GroupID == "" {
		return ErrMissingGroup
	}
	return nil
}

// DetectedFace is one face found by the service.
type DetectedFace struct {
	FaceID     string
	Box        identity.Box
	Attributes identity.Attributes
	Emotion    *identity.EmotionScores
}

// Client is the face service client.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a face service client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		http:   httpc.NewClient(cfg.Timeout),
		logger: log.Component("face"),
	}, nil
}

type personGroup struct {
	PersonGroupID string `json:"personGroupId"`
	Name          string `json:"name"`
}

type person struct {
	PersonID string `json:"personId"`
	Name     string `json:"name"`
}

// EnsureGroup creates the configured person group when it does not exist and
// seeds it with GroupMembers.
func (c *Client) EnsureGroup(ctx context.Context) error {
	var groups []personGroup
	if err := c.do(ctx, http.MethodGet, "persongroups", nil, &groups); err != nil {
		return fmt.Errorf("face: list groups: %w", err)
	}
	for _, g := range groups {
		if strings.EqualFold(g.PersonGroupID, c.cfg.GroupID) {
			return nil
		}
	}

	body := map[string]string{"name": c.cfg.GroupName}
	if err := c.do(ctx, http.MethodPut, c.groupPath(), body, nil); err != nil {
		return fmt.Errorf("face: create group: %w", err)
	}
	c.logger.Info("person group created", "group", c.cfg.GroupID)

	if c.cfg.GroupMembers == "" {
		return nil
	}
	for _, member := range strings.Split(c.cfg.GroupMembers, "|") {
		if _, err := c.CreatePerson(ctx, member); err != nil {
			return err
		}
	}
	return nil
}

// CreatePerson returns the id of the person named name. A new person is
// created when none exists and is named after its own id until the real
// name is known.
func (c *Client) CreatePerson(ctx context.Context, name string) (string, error) {
	persons, err := c.persons(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range persons {
		if p.Name == name {
			return p.PersonID, nil
		}
	}

	var created person
	if err := c.do(ctx, http.MethodPost, c.groupPath()+"/persons", map[string]string{"name": name}, &created); err != nil {
		return "", fmt.Errorf("face: create person: %w", err)
	}
	if err := c.rename(ctx, created.PersonID, created.PersonID); err != nil {
		return "", err
	}
	c.logger.Info("person created", "person", created.PersonID)
	return created.PersonID, nil
}

// RenamePerson names the person "name-id" and returns the new name.
func (c *Client) RenamePerson(ctx context.Context, personID, name string) (string, error) {
	newName := name + identity.NameSeparator + personID
	if err := c.rename(ctx, personID, newName); err != nil {
		return "", err
	}
	return newName, nil
}

func (c *Client) rename(ctx context.Context, personID, name string) error {
	path := c.groupPath() + "/persons/" + url.PathEscape(personID)
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"name": name}, nil); err != nil {
		return fmt.Errorf("face: rename person: %w", err)
	}
	return nil
}

// StoreFaceSample adds jpeg as a training face of the person.
func (c *Client) StoreFaceSample(ctx context.Context, personID string, jpeg []byte) error {
	path := c.groupPath() + "/persons/" + url.PathEscape(personID) + "/persistedFaces"
	req := httpc.Request{
		Method:      http.MethodPost,
		URL:         c.url(path),
		RawBody:     jpeg,
		ContentType: "application/octet-stream",
		Header:      c.header(),
	}
	if err := httpc.DoJSON(ctx, c.http, req, nil); err != nil {
		return fmt.Errorf("face: store face: %w", convertError(err))
	}
	return nil
}

// Train starts training the person group and waits until it is no longer
// running.
func (c *Client) Train(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, c.groupPath()+"/train", nil, nil); err != nil {
		return fmt.Errorf("face: train: %w", err)
	}

	ticker := time.NewTicker(c.cfg.TrainPollInterval)
	defer ticker.Stop()
	for {
		var status struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := c.do(ctx, http.MethodGet, c.groupPath()+"/training", nil, &status); err != nil {
			return fmt.Errorf("face: training status: %w", err)
		}
		switch strings.ToLower(status.Status) {
		case "running", "notstarted":
		case "failed":
			return fmt.Errorf("%w: %s", ErrTrainingFailed, status.Message)
		default:
			c.logger.Info("training finished", "status", status.Status)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type detectResponse struct {
	FaceID        string `json:"faceId"`
	FaceRectangle struct {
		Top    int `json:"top"`
		Left   int `json:"left"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"faceRectangle"`
	FaceAttributes struct {
		Age     float64                 `json:"age"`
		Gender  string                  `json:"gender"`
		Emotion *identity.EmotionScores `json:"emotion"`
	} `json:"faceAttributes"`
}

// DetectFaces finds faces in jpeg with their age, gender and emotion.
func (c *Client) DetectFaces(ctx context.Context, jpeg []byte) ([]DetectedFace, error) {
	req := httpc.Request{
		Method:      http.MethodPost,
		URL:         c.url("detect?returnFaceId=true&returnFaceAttributes=age,gender,emotion"),
		RawBody:     jpeg,
		ContentType: "application/octet-stream",
		Header:      c.header(),
	}
	var resp []detectResponse
	if err := httpc.DoJSON(ctx, c.http, req, &resp); err != nil {
		return nil, fmt.Errorf("face: detect: %w", convertError(err))
	}

	faces := make([]DetectedFace, 0, len(resp))
	for _, r := range resp {
		faces = append(faces, DetectedFace{
			FaceID: r.FaceID,
			Box: identity.Box{
				X:      r.FaceRectangle.Left,
				Y:      r.FaceRectangle.Top,
				Width:  r.FaceRectangle.Width,
				Height: r.FaceRectangle.Height,
			},
			Attributes: identity.Attributes{Age: r.FaceAttributes.Age, Gender: r.FaceAttributes.Gender},
			Emotion:    r.FaceAttributes.Emotion,
		})
	}
	return faces, nil
}

// IdentifyFaces resolves detected face ids to persons of the group. Faces
// without a candidate are absent from the result.
func (c *Client) IdentifyFaces(ctx context.Context, faceIDs []string) (map[string]identity.Person, error) {
	if len(faceIDs) == 0 {
		return map[string]identity.Person{}, nil
	}
	body := map[string]interface{}{
		"personGroupId":              c.cfg.GroupID,
		"faceIds":                    faceIDs,
		"maxNumOfCandidatesReturned": 1,
	}
	var results []struct {
		FaceID     string `json:"faceId"`
		Candidates []struct {
			PersonID   string  `json:"personId"`
			Confidence float64 `json:"confidence"`
		} `json:"candidates"`
	}
	if err := c.do(ctx, http.MethodPost, "identify", body, &results); err != nil {
		return nil, err
	}

	persons := make(map[string]identity.Person, len(results))
	for _, r := range results {
		if len(r.Candidates) == 0 {
			continue
		}
		p, err := c.Person(ctx, r.Candidates[0].PersonID)
		if err != nil {
			return nil, err
		}
		persons[r.FaceID] = p
	}
	return persons, nil
}

// Person fetches one person of the group.
func (c *Client) Person(ctx context.Context, personID string) (identity.Person, error) {
	var p person
	if err := c.do(ctx, http.MethodGet, c.groupPath()+"/persons/"+url.PathEscape(personID), nil, &p); err != nil {
		return identity.Person{}, fmt.Errorf("face: get person: %w", err)
	}
	return identity.Person{ID: p.PersonID, Name: p.Name}, nil
}

func (c *Client) persons(ctx context.Context) ([]person, error) {
	var persons []person
	if err := c.do(ctx, http.MethodGet, c.groupPath()+"/persons", nil, &persons); err != nil {
		return nil, fmt.Errorf("face: list persons: %w", err)
	}
	return persons, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := httpc.Request{
		Method: method,
		URL:    c.url(path),
		Body:   body,
		Header: c.header(),
	}
	return convertError(httpc.DoJSON(ctx, c.http, req, out))
}

func (c *Client) groupPath() string {
	return "persongroups/" + url.PathEscape(c.cfg.GroupID)
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.Endpoint, "/") + "/" + path
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Ocp-Apim-Subscription-Key", c.cfg.Key)
	return h
}
