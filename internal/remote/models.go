package remote

// Entity is an addressable lighting segment stored by the remote side.
type Entity struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	StartAddr int    `json:"start_addr"`
	EndAddr   int    `json:"end_addr"`
	ParentID  *int   `json:"parent_id,omitempty"`
}

// EntityState is the lighting state as reported by GET /entity/.
// Brightness is on the wire scale 0..100.
type EntityState struct {
	IsOn       bool     `json:"is_on"`
	Brightness int      `json:"brightness"`
	RGBColor   [3]uint8 `json:"rgb_color"`
}

// Record is one element of the GET /entity/ response
type Record struct {
	Entity
	State EntityState `json:"state"`
}

// EntityInput is the body of POST /entity/ and PUT /entity/.
// ID is only sent on update.
type EntityInput struct {
	ID        int    `json:"id,omitempty"`
	Name      string `json:"name"`
	StartAddr int    `json:"start_addr"`
	EndAddr   int    `json:"end_addr"`
	ParentID  *int   `json:"parent_id,omitempty"`
}

// ColorCommand is the payload of POST /color/ and of the realtime set_color event.
type ColorCommand struct {
	Entity     int   `json:"entity"`
	Red        uint8 `json:"red"`
	Green      uint8 `json:"green"`
	Blue       uint8 `json:"blue"`
	Brightness int   `json:"brightness"`
	IsOn       bool  `json:"is_on"`
}

// ColorResult is the response of POST /color/.
// Echoed fields are the values the server actually applied; nil means not reported.
type ColorResult struct {
	Success    bool   `json:"success"`
	Red        *uint8 `json:"red,omitempty"`
	Green      *uint8 `json:"green,omitempty"`
	Blue       *uint8 `json:"blue,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
	IsOn       *bool  `json:"is_on,omitempty"`
}

// Applied merges the confirmed fields over the command that was sent.
func (r *ColorResult) Applied(sent ColorCommand) ColorCommand {
	out := sent
	if r.Red != nil {
		out.Red = *r.Red
	}
	if r.Green != nil {
		out.Green = *r.Green
	}
	if r.Blue != nil {
		out.Blue = *r.Blue
	}
	if r.Brightness != nil {
		out.Brightness = *r.Brightness
	}
	if r.IsOn != nil {
		out.IsOn = *r.IsOn
	}
	return out
}

// ToggleCommand is the body of POST /toggle/
type ToggleCommand struct {
	Entity int  `json:"entity"`
	IsOn   bool `json:"is_on"`
}

// ToggleResult is the response of POST /toggle/
type ToggleResult struct {
	IsOn bool `json:"is_on"`
}
