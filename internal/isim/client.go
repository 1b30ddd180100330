package isim

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

// Executor runs one portal operation and exposes the full outcome; the
// dormitory subsystem needs response headers, not just bodies.
type Executor interface {
	Do(ctx context.Context, principal string, op portal.Operation) (portal.Outcome, error)
}

var (
	jsessionidPattern = regexp.MustCompile(`JSESSIONID=([^;]+)`)
	// The picker endpoints answer with JavaScript object literals, not
	// JSON: property names are unquoted.
	bareKeyPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// Client speaks to the dormitory billing subsystem for one principal. The
// subsystem sits behind its own JSESSIONID obtained from /go; requests still
// travel through the portal session so VPN cookies ride along, which slaves
// this session's validity to the portal one.
type Client struct {
	exec      Executor
	baseURL   string
	principal string

	mu         sync.Mutex
	jsessionid string
}

func NewClient(exec Executor, baseURL, principal string) *Client {
	return &Client{
		exec:      exec,
		baseURL:   strings.TrimRight(baseURL, "/"),
		principal: principal,
	}
}

// sessionParams derives the /go handshake identifiers. The upstream accepts
// any openid that is stable-ish per user; the original app derives it from a
// hash of the student number plus a random suffix.
func (c *Client) sessionParams() url.Values {
	sum := md5.Sum([]byte(c.principal + "_openid"))
	openid := fmt.Sprintf("%x", sum)[:15] + fmt.Sprint(100+rand.Intn(900))
	return url.Values{"openid": {openid}, "sn": {"sn"}}
}

// InitSession obtains a JSESSIONID. The endpoint answers 302 and sets the
// cookie on that intermediate response, so redirects are suppressed.
func (c *Client) InitSession(ctx context.Context) error {
	params := c.sessionParams()
	op := portal.Operation{
		Name: "isim.init_session",
		NewRequest: func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(
				portal.WithoutRedirects(ctx),
				http.MethodGet,
				c.baseURL+"/go?"+params.Encode(),
				nil,
			)
		},
	}
	out, err := c.exec.Do(ctx, c.principal, op)
	if err != nil {
		return err
	}
	if out.Status != http.StatusFound {
		return fmt.Errorf("%w: expected redirect from /go, got %d", portal.ErrProtocol, out.Status)
	}
	for _, sc := range out.Header.Values("Set-Cookie") {
		if m := jsessionidPattern.FindStringSubmatch(sc); m != nil {
			c.mu.Lock()
			c.jsessionid = m[1]
			c.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("%w: no JSESSIONID in /go response", portal.ErrProtocol)
}

// Invalidate clears the subsystem session. The next call re-initializes.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.jsessionid = ""
	c.mu.Unlock()
}

func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.jsessionid
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}
	if err := c.InitSession(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jsessionid, nil
}

func (c *Client) get(ctx context.Context, name, path, referer string) ([]byte, error) {
	id, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	op := portal.Operation{
		Name: name,
		NewRequest: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Cookie", "JSESSIONID="+id)
			req.Header.Set("Referer", c.baseURL+referer)
			req.Header.Set("X-Requested-With", "XMLHttpRequest")
			return req, nil
		},
	}
	out, err := c.exec.Do(ctx, c.principal, op)
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (c *Client) postForm(ctx context.Context, name, path string, form url.Values) ([]byte, error) {
	id, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	op := portal.Operation{
		Name: name,
		NewRequest: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Cookie", "JSESSIONID="+id)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Origin", c.baseURL)
			req.Header.Set("Referer", c.baseURL+"/about")
			req.Header.Set("X-Requested-With", "XMLHttpRequest")
			return req, nil
		},
	}
	out, err := c.exec.Do(ctx, c.principal, op)
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// decodeJSObject parses a JavaScript object-literal response by quoting the
// bare property names first.
func decodeJSObject(raw []byte, v any) error {
	s := strings.TrimSpace(string(raw))
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	quoted := bareKeyPattern.ReplaceAllString(s, `"$1":`)
	if err := json.Unmarshal([]byte(quoted), v); err != nil {
		return fmt.Errorf("%w: picker data: %v", portal.ErrProtocol, err)
	}
	return nil
}

var (
	pickerValuesPattern  = regexp.MustCompile(`values:\s*\[(.*?)\]`)
	pickerDisplayPattern = regexp.MustCompile(`displayValues:\s*\[(.*?)\]`)
)

// Buildings scrapes the building picker from the /about page.
func (c *Client) Buildings(ctx context.Context) ([]Building, error) {
	body, err := c.get(ctx, "isim.buildings", "/about", "/home")
	if err != nil {
		return nil, err
	}
	page := string(body)
	vm := pickerValuesPattern.FindStringSubmatch(page)
	dm := pickerDisplayPattern.FindStringSubmatch(page)
	if vm == nil || dm == nil {
		return nil, fmt.Errorf("%w: no building picker on page", portal.ErrProtocol)
	}
	codes := splitPickerList(vm[1])
	names := splitPickerList(dm[1])

	var buildings []Building
	for i := 0; i < len(codes) && i < len(names); i++ {
		if codes[i] == "" || names[i] == "请选择" {
			continue
		}
		buildings = append(buildings, Building{Code: codes[i], Name: names[i]})
	}
	return buildings, nil
}

func splitPickerList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(strings.TrimSpace(p), `"`)
	}
	return out
}

type floorData struct {
	Codes []string `json:"floordm"`
	Names []string `json:"floorname"`
}

// Floors lists the floors of one building. The first picker entry is the
// placeholder and is skipped.
func (c *Client) Floors(ctx context.Context, buildingCode string) ([]Floor, error) {
	body, err := c.get(ctx, "isim.floors", "/about/floors/"+url.PathEscape(buildingCode), "/about")
	if err != nil {
		return nil, err
	}
	var data []floorData
	if err := decodeJSObject(body, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty floor data", portal.ErrProtocol)
	}
	var floors []Floor
	for i := 1; i < len(data[0].Codes) && i < len(data[0].Names); i++ {
		code, name := data[0].Codes[i], data[0].Names[i]
		if code == "" || name == "" || name == "请选择" {
			continue
		}
		floors = append(floors, Floor{Code: code, Name: name})
	}
	return floors, nil
}

type roomData struct {
	Codes []string `json:"roomdm"`
	Names []string `json:"roomname"`
}

// Rooms lists the rooms of one floor.
func (c *Client) Rooms(ctx context.Context, floorCode string) ([]Room, error) {
	body, err := c.get(ctx, "isim.rooms", "/about/rooms/"+url.PathEscape(floorCode), "/about")
	if err != nil {
		return nil, err
	}
	var data []roomData
	if err := decodeJSObject(body, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty room data", portal.ErrProtocol)
	}
	var rooms []Room
	for i := 1; i < len(data[0].Codes) && i < len(data[0].Names); i++ {
		code, name := data[0].Codes[i], data[0].Names[i]
		if code == "" || name == "" || name == "请选择" {
			continue
		}
		rooms = append(rooms, Room{Code: code, Name: name})
	}
	return rooms, nil
}

type bindingData struct {
	BindingInfo string `json:"bindinginfo"`
}

// BindRoom narrows building/floor/room sequentially, validating each code
// against the previous selection, then posts the rebinding.
func (c *Client) BindRoom(ctx context.Context, buildingCode, floorCode, roomCode string) (*RoomBinding, error) {
	buildings, err := c.Buildings(ctx)
	if err != nil {
		return nil, err
	}
	building, ok := findByCode(buildings, buildingCode, func(b Building) string { return b.Code })
	if !ok {
		return nil, fmt.Errorf("unknown building %q: %w", buildingCode, ErrInvalidSelection)
	}

	floors, err := c.Floors(ctx, buildingCode)
	if err != nil {
		return nil, err
	}
	floor, ok := findByCode(floors, floorCode, func(f Floor) string { return f.Code })
	if !ok {
		return nil, fmt.Errorf("floor %q not in building %q: %w", floorCode, buildingCode, ErrInvalidSelection)
	}

	rooms, err := c.Rooms(ctx, floorCode)
	if err != nil {
		return nil, err
	}
	room, ok := findByCode(rooms, roomCode, func(r Room) string { return r.Code })
	if !ok {
		return nil, fmt.Errorf("room %q not on floor %q: %w", roomCode, floorCode, ErrInvalidSelection)
	}

	params := c.sessionParams()
	form := url.Values{
		"sn":     {params.Get("sn")},
		"openid": {params.Get("openid")},
		"roomdm": {roomCode},
		"room":   {fmt.Sprintf("%s/%s/%s", building.Name, floor.Name, room.Name)},
		"mode":   {"u"},
	}
	body, err := c.postForm(ctx, "isim.bind_room", "/about/rebinding", form)
	if err != nil {
		return nil, err
	}
	var data []bindingData
	if err := decodeJSObject(body, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 || data[0].BindingInfo == "" {
		return nil, fmt.Errorf("%w: binding not confirmed", portal.ErrProtocol)
	}

	return &RoomBinding{
		Building:    building,
		Floor:       floor,
		Room:        room,
		RoomID:      roomCode,
		DisplayText: data[0].BindingInfo,
	}, nil
}

func findByCode[T any](items []T, code string, key func(T) string) (T, bool) {
	for _, it := range items {
		if key(it) == code {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// Electricity fetches the balance and usage records for the bound room.
func (c *Client) Electricity(ctx context.Context) (*Electricity, error) {
	body, err := c.get(ctx, "isim.electricity", "/use/record", "/about")
	if err != nil {
		return nil, err
	}
	return parseElectricityPage(body)
}
