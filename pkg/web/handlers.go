package web

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-robbie/pkg/camera"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/pantilt"
	"github.com/teslashibe/go-robbie/pkg/perception"
)

// Status is the dashboard's view of Robbie.
type Status struct {
	Sleeping   bool              `json:"sleeping"`
	Session    string            `json:"session"`
	Listening  string            `json:"listening"`
	Eyes       string            `json:"eyes"`
	Pan        int               `json:"pan"`
	Tilt       int               `json:"tilt"`
	Paused     bool              `json:"paused"`
	Servo      *pantilt.Stats    `json:"servo,omitempty"`
	Perception *perception.Stats `json:"perception,omitempty"`
	Tracked    int               `json:"tracked"`
	Time       time.Time         `json:"time"`
}

// Identity is the JSON form of a tracked identity.
type Identity struct {
	Seq       uint64       `json:"seq"`
	PersonID  string       `json:"person_id"`
	Name      string       `json:"name"`
	Known     bool         `json:"known"`
	Box       identity.Box `json:"box"`
	Gender    string       `json:"gender,omitempty"`
	Age       float64      `json:"age,omitempty"`
	Emotion   string       `json:"emotion,omitempty"`
	FirstSeen time.Time    `json:"first_seen"`
	LastSeen  time.Time    `json:"last_seen"`
}

func newIdentity(t identity.TrackedIdentity) Identity {
	out := Identity{
		Seq:       t.Seq,
		PersonID:  t.PersonID,
		Name:      identity.DisplayName(t.Name),
		Known:     t.Known(),
		Box:       t.Box,
		Gender:    t.Gender(),
		FirstSeen: t.FirstSeen,
		LastSeen:  t.LastSeen,
	}
	if t.Attributes != nil {
		out.Age = t.Attributes.Age
	}
	if t.Emotion != nil {
		out.Emotion, _ = t.Emotion.Dominant()
	}
	return out
}

// Status returns a snapshot of the running components.
func (s *Server) Status() Status {
	st := Status{Time: time.Now()}
	if b := s.src.Brain; b != nil {
		st.Sleeping = b.Sleeping()
		st.Session = b.Session()
	}
	if e := s.src.Ears; e != nil {
		st.Listening = e.State().String()
	}
	if e := s.src.Eyes; e != nil {
		st.Eyes = string(e.Current())
	}
	if p := s.src.PanTilt; p != nil {
		st.Pan, st.Tilt = p.Position()
		st.Paused = p.Paused()
		stats := p.Stats()
		st.Servo = &stats
	}
	if p := s.src.Perception; p != nil {
		stats := p.Stats()
		st.Perception = &stats
	}
	if ids := s.src.Identities; ids != nil {
		st.Tracked = len(ids.Identities())
	}
	return st
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleIdentities(c *fiber.Ctx) error {
	out := []Identity{}
	if ids := s.src.Identities; ids != nil {
		for _, t := range ids.Identities() {
			out = append(out, newIdentity(t))
		}
	}
	return c.JSON(out)
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	if s.src.Events == nil {
		return c.JSON([]any{})
	}
	session := c.Query("session", s.src.SessionID)
	entries, err := s.src.Events.Recent(c.UserContext(), session, c.QueryInt("limit", 50))
	if err != nil {
		s.logger.Warn("event query failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if entries == nil {
		return c.JSON([]any{})
	}
	return c.JSON(entries)
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.src.Camera == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(s.src.Camera.GetConfig())
}

func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	if s.src.Camera == nil {
		return fiber.ErrNotFound
	}
	var params map[string]any
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.src.Camera.UpdateConfig(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.src.Camera.GetConfig())
}

func (s *Server) handleCameraPresets(c *fiber.Ctx) error {
	return c.JSON(camera.PresetNames())
}
