package window

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
)

// MouseButton identifies a mouse button in pointer callbacks.
type MouseButton int

const (
	MouseButtonLeft MouseButton = iota
	MouseButtonRight
	MouseButtonMiddle
)

// Window provides the render surface and forwards input to whatever produces the frame's draw
// requests, usually the game and its GUI library.
type Window interface {
	// SetUpdateCallback sets the function called each message loop iteration.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer is resized.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetScaleCallback sets the function called when the content scale changes, for example when
	// the window moves to a monitor with a different DPI.
	//
	// Parameters:
	//   - callback: function receiving the new pixels per point
	SetScaleCallback(callback func(pixelsPerPoint float32))

	// SetScrollCallback sets the callback for scroll wheel and trackpad events.
	//
	// Parameters:
	//   - callback: function receiving the horizontal and vertical scroll offsets
	SetScrollCallback(callback func(dx, dy float32))

	// SetKeyCallback sets the callback for key press, repeat and release events.
	//
	// Parameters:
	//   - callback: function receiving the key code and whether it is held
	SetKeyCallback(callback func(keyCode uint32, pressed bool))

	// SetCharCallback sets the callback for text input.
	//
	// Parameters:
	//   - callback: function receiving each typed character
	SetCharCallback(callback func(r rune))

	// SetMouseButtonCallback sets the callback for mouse button presses and releases.
	//
	// Parameters:
	//   - callback: function receiving the button, its state and the cursor position in points
	SetMouseButtonCallback(callback func(button MouseButton, pressed bool, x, y float32))

	// SetCursorCallback sets the callback for cursor movement.
	//
	// Parameters:
	//   - callback: function receiving the cursor position in points
	SetCursorCallback(callback func(x, y float32))

	// SurfaceDescriptor returns a wgpu.SurfaceDescriptor suitable for creating a WebGPU surface.
	// The descriptor is platform-appropriate (Windows HWND, X11 Xlib, Wayland, macOS Metal, etc.)
	// and is created by the wgpuglfw bridge from the underlying GLFW window.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the platform-specific surface descriptor, or nil if window is not initialized
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning returns true if the window is still active.
	//
	// Returns:
	//   - bool: true if window is running, false if closed
	IsRunning() bool

	// Close closes the window and releases platform resources.
	//
	// Returns:
	//   - error: error if close operation fails
	Close() error

	// RequestClose flags the window to close. The message loop exits on its next iteration.
	// Safe to call from any goroutine.
	RequestClose()

	// ProcessMessages runs the window message loop.
	// Blocks until the window is closed. Calls the update callback each iteration.
	ProcessMessages()

	// Width returns the current framebuffer width in pixels.
	Width() int

	// Height returns the current framebuffer height in pixels.
	Height() int

	// PixelsPerPoint returns the content scale, the number of framebuffer pixels per logical
	// point. GUI draw lists are laid out in points and scaled by this factor.
	//
	// Returns:
	//   - float32: the content scale, 1 on standard DPI displays
	PixelsPerPoint() float32
}

// engineWindow is the implementation of the Window interface.
// Holds window configuration, GLFW state, and event callbacks.
type engineWindow struct {
	title string

	// size limits applied to the GLFW window, zero for none
	minWidth, minHeight int
	maxWidth, maxHeight int

	// framebuffer size in pixels
	width, height int

	pixelsPerPoint float32

	// internalWindow holds the platform-specific window data (glfwWindow).
	internalWindow any

	onUpdate      func()
	onResize      func(width, height int)
	onScale       func(pixelsPerPoint float32)
	onScroll      func(dx, dy float32)
	onKey         func(keyCode uint32, pressed bool)
	onChar        func(r rune)
	onMouseButton func(button MouseButton, pressed bool, x, y float32)
	onCursor      func(x, y float32)
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a new Window with the specified options.
// Applies default values first, then each option in order.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the spawned window
//   - error: an error if the platform window cannot be created
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := &engineWindow{
		title:          "lumen",
		minWidth:       320,
		minHeight:      200,
		width:          1280,
		height:         720,
		pixelsPerPoint: 1,
	}
	for _, opt := range options {
		opt(w)
	}
	if err := newPlatformWindow(w); err != nil {
		return nil, fmt.Errorf("failed to create platform window: %w", err)
	}
	return w, nil
}

func (w *engineWindow) SetUpdateCallback(callback func()) {
	w.onUpdate = callback
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SetScaleCallback(callback func(pixelsPerPoint float32)) {
	w.onScale = callback
}

func (w *engineWindow) SetScrollCallback(callback func(dx, dy float32)) {
	w.onScroll = callback
}

func (w *engineWindow) SetKeyCallback(callback func(keyCode uint32, pressed bool)) {
	w.onKey = callback
}

func (w *engineWindow) SetCharCallback(callback func(r rune)) {
	w.onChar = callback
}

func (w *engineWindow) SetMouseButtonCallback(callback func(button MouseButton, pressed bool, x, y float32)) {
	w.onMouseButton = callback
}

func (w *engineWindow) SetCursorCallback(callback func(x, y float32)) {
	w.onCursor = callback
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *engineWindow) IsRunning() bool {
	return platformIsRunningCheck(w)
}

func (w *engineWindow) Close() error {
	return platformCloseWindow(w)
}

func (w *engineWindow) RequestClose() {
	platformRequestClose(w)
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		if ok := platformProcessMessages(w); !ok {
			break
		}

		if w.onUpdate != nil {
			w.onUpdate()
		}

		runtime.Gosched()
	}
}

func (w *engineWindow) Width() int              { return w.width }
func (w *engineWindow) Height() int             { return w.height }
func (w *engineWindow) PixelsPerPoint() float32 { return w.pixelsPerPoint }

// setScale records a new content scale and notifies the scale callback when it changed.
func (w *engineWindow) setScale(scale float32) {
	if scale <= 0 || scale == w.pixelsPerPoint {
		return
	}
	w.pixelsPerPoint = scale
	if w.onScale != nil {
		w.onScale(scale)
	}
}

// toPoints converts a cursor position to points. Where the framebuffer is larger than the window
// (macOS, Wayland) GLFW already reports points; elsewhere it reports pixels.
func toPoints(x, y float64, framebufferWidth, windowWidth int, pixelsPerPoint float32) (float32, float32) {
	if windowWidth <= 0 || framebufferWidth == windowWidth {
		return float32(x) / pixelsPerPoint, float32(y) / pixelsPerPoint
	}
	return float32(x), float32(y)
}
