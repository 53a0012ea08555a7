package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/replaykit/replaykit/internal/config"
	"github.com/replaykit/replaykit/internal/touch"
	"github.com/replaykit/replaykit/internal/typing"
)

// Tool names exposed by the mobile automation MCP server.
const (
	toolScreenSize   = "mobile_get_screen_size"
	toolTap          = "mobile_click_on_screen_at_coordinates"
	toolLongPress    = "mobile_long_press_on_screen_at_coordinates"
	toolSwipe        = "swipe_on_screen"
	toolType         = "mobile_type_keys"
	toolPress        = "mobile_press_button"
	toolScreenshot   = "mobile_take_screenshot"
	toolListElements = "mobile_list_elements_on_screen"
)

// MCPClient drives a device through an MCP tool server, normally a
// mobile-automation bridge spawned as a child process speaking stdio.
type MCPClient struct {
	session *mcp.ClientSession
}

var _ Capabilities = (*MCPClient)(nil)

// Dial spawns the configured device server and performs the MCP handshake.
func Dial(ctx context.Context, dc config.DeviceConfig) (*MCPClient, error) {
	if dc.Command == "" {
		return nil, fmt.Errorf("device: no device command configured")
	}
	cmd := exec.Command(dc.Command, dc.Args...)
	transport := &mcp.CommandTransport{Command: cmd}
	return connect(ctx, transport)
}

func connect(ctx context.Context, transport mcp.Transport) (*MCPClient, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "replaykit", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("device: connect: %w", err)
	}
	return &MCPClient{session: session}, nil
}

// Close terminates the MCP session and the child server.
func (c *MCPClient) Close() error {
	return c.session.Close()
}

func (c *MCPClient) call(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("device: %s: %w", tool, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("device: %s: %s", tool, firstText(res))
	}
	return res, nil
}

func firstText(res *mcp.CallToolResult) string {
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return "tool call failed"
}

// ScreenSize reports the device screen dimensions in pixels.
func (c *MCPClient) ScreenSize(ctx context.Context) (touch.Screen, error) {
	res, err := c.call(ctx, toolScreenSize, nil)
	if err != nil {
		return touch.Screen{}, err
	}
	var size struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := json.Unmarshal([]byte(firstText(res)), &size); err != nil {
		return touch.Screen{}, fmt.Errorf("device: parse screen size: %w", err)
	}
	return touch.Screen{Width: size.Width, Height: size.Height}, nil
}

// Tap touches down and up at the given pixel coordinates.
func (c *MCPClient) Tap(ctx context.Context, x, y float64) error {
	_, err := c.call(ctx, toolTap, map[string]any{"x": x, "y": y})
	return err
}

// LongPress holds at the given pixel coordinates.
func (c *MCPClient) LongPress(ctx context.Context, x, y float64) error {
	_, err := c.call(ctx, toolLongPress, map[string]any{"x": x, "y": y})
	return err
}

// Swipe drags from x,y in the named direction.
func (c *MCPClient) Swipe(ctx context.Context, direction string, x, y, distancePX float64) error {
	args := map[string]any{"direction": direction, "x": x, "y": y}
	if distancePX > 0 {
		args["distance"] = distancePX
	}
	_, err := c.call(ctx, toolSwipe, args)
	return err
}

// Type enters text into the focused field.
func (c *MCPClient) Type(ctx context.Context, text string, submit bool) error {
	_, err := c.call(ctx, toolType, map[string]any{"text": text, "submit": submit})
	return err
}

// Press pushes a hardware or navigation key.
func (c *MCPClient) Press(ctx context.Context, key string) error {
	_, err := c.call(ctx, toolPress, map[string]any{"button": key})
	return err
}

// Screenshot captures the current screen. It returns the raw image bytes and
// their MIME type.
func (c *MCPClient) Screenshot(ctx context.Context) ([]byte, string, error) {
	res, err := c.call(ctx, toolScreenshot, nil)
	if err != nil {
		return nil, "", err
	}
	for _, content := range res.Content {
		if ic, ok := content.(*mcp.ImageContent); ok {
			return ic.Data, ic.MIMEType, nil
		}
	}
	return nil, "", fmt.Errorf("device: %s returned no image", toolScreenshot)
}

// wireElement is the accessibility node shape the device server reports.
type wireElement struct {
	Label string `json:"label"`
	Name  string `json:"name"`
	Rect  struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"rect"`
}

// Elements lists the visible accessibility elements. Server nodes without a
// label fall back to their resource name.
func (c *MCPClient) Elements(ctx context.Context) ([]Element, error) {
	res, err := c.call(ctx, toolListElements, nil)
	if err != nil {
		return nil, err
	}
	var wire []wireElement
	if err := json.Unmarshal([]byte(firstText(res)), &wire); err != nil {
		return nil, fmt.Errorf("device: parse elements: %w", err)
	}
	elements := make([]Element, 0, len(wire))
	for _, w := range wire {
		label := w.Label
		if label == "" {
			label = w.Name
		}
		elements = append(elements, Element{
			Label: label,
			Bounds: typing.Rect{
				MinX: w.Rect.X,
				MinY: w.Rect.Y,
				MaxX: w.Rect.X + w.Rect.Width,
				MaxY: w.Rect.Y + w.Rect.Height,
			},
		})
	}
	return elements, nil
}
