// Package device enumerates displays and opens the screen and system
// audio capture sources of the local machine.
package device

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNoDisplays      = errors.New("no displays were found")
	ErrDisplayNotFound = errors.New("display not found")
)

// Display describes one attached monitor.
type Display struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Primary bool   `json:"primary"`
}

// ListDisplays returns the displays attached to this machine in the order
// the platform reports them.
func ListDisplays(ctx context.Context) ([]Display, error) {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.CommandContext(ctx, "system_profiler", "SPDisplaysDataType").Output()
		if err != nil {
			return nil, errors.Wrap(err, "system_profiler failed")
		}
		return parseMacOSDisplays(string(out)), nil
	case "linux":
		out, err := exec.CommandContext(ctx, "xrandr", "--listmonitors").Output()
		if err != nil {
			return nil, errors.Wrap(err, "xrandr failed")
		}
		return parseXrandrMonitors(string(out)), nil
	case "windows":
		out, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", windowsScreensScript).Output()
		if err != nil {
			return nil, errors.Wrap(err, "powershell failed")
		}
		return parseWindowsScreens(string(out)), nil
	default:
		return nil, errors.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

// PrimaryDisplay returns the display marked primary, or the first one
// when none is marked.
func PrimaryDisplay(ctx context.Context) (Display, error) {
	displays, err := ListDisplays(ctx)
	if err != nil {
		return Display{}, err
	}
	return pickPrimary(displays)
}

// FindDisplay returns the display at index.
func FindDisplay(ctx context.Context, index int) (Display, error) {
	displays, err := ListDisplays(ctx)
	if err != nil {
		return Display{}, err
	}
	for _, d := range displays {
		if d.Index == index {
			return d, nil
		}
	}
	return Display{}, errors.Wrapf(ErrDisplayNotFound, "index %d", index)
}

func pickPrimary(displays []Display) (Display, error) {
	if len(displays) == 0 {
		return Display{}, ErrNoDisplays
	}
	for _, d := range displays {
		if d.Primary {
			return d, nil
		}
	}
	return displays[0], nil
}

// parseXrandrMonitors parses `xrandr --listmonitors`:
//
//	Monitors: 2
//	 0: +*eDP-1 1920/344x1080/194+0+0  eDP-1
//	 1: +HDMI-1 2560/597x1440/336+1920+0  HDMI-1
func parseXrandrMonitors(output string) []Display {
	var displays []Display
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || !strings.HasSuffix(fields[0], ":") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSuffix(fields[0], ":"))
		if err != nil {
			continue
		}
		w, h, x, y, ok := parseXrandrGeometry(fields[2])
		if !ok {
			continue
		}

		flags := fields[1]
		name := strings.TrimLeft(flags, "+*")
		if len(fields) >= 4 {
			name = fields[3]
		}
		displays = append(displays, Display{
			Index:   index,
			Name:    name,
			Width:   w,
			Height:  h,
			X:       x,
			Y:       y,
			Primary: strings.Contains(flags, "*"),
		})
	}
	return displays
}

// parseXrandrGeometry parses "1920/344x1080/194+0+0".
func parseXrandrGeometry(geom string) (w, h, x, y int, ok bool) {
	size, offset, found := strings.Cut(geom, "+")
	if !found {
		return 0, 0, 0, 0, false
	}
	ws, hs, found := strings.Cut(size, "x")
	if !found {
		return 0, 0, 0, 0, false
	}
	ws, _, _ = strings.Cut(ws, "/")
	hs, _, _ = strings.Cut(hs, "/")
	xs, ys, found := strings.Cut(offset, "+")
	if !found {
		return 0, 0, 0, 0, false
	}

	var err error
	if w, err = strconv.Atoi(ws); err != nil {
		return 0, 0, 0, 0, false
	}
	if h, err = strconv.Atoi(hs); err != nil {
		return 0, 0, 0, 0, false
	}
	if x, err = strconv.Atoi(xs); err != nil {
		return 0, 0, 0, 0, false
	}
	if y, err = strconv.Atoi(ys); err != nil {
		return 0, 0, 0, 0, false
	}
	return w, h, x, y, true
}

// parseMacOSDisplays walks the Displays section of system_profiler output.
// Each display starts with an indented "Name:" line and carries a
// Resolution line such as "3456 x 2234 Retina".
func parseMacOSDisplays(output string) []Display {
	var displays []Display
	var current *Display
	inDisplays := false

	flush := func() {
		if current != nil && current.Width > 0 && current.Height > 0 {
			current.Index = len(displays)
			displays = append(displays, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "Displays:" {
			flush()
			inDisplays = true
			continue
		}
		if !inDisplays || trimmed == "" {
			continue
		}

		if strings.HasSuffix(trimmed, ":") && !strings.Contains(strings.TrimSuffix(trimmed, ":"), ":") {
			flush()
			current = &Display{Name: strings.TrimSuffix(trimmed, ":")}
			continue
		}
		if current == nil {
			continue
		}

		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Resolution":
			var nums []int
			for _, f := range strings.Fields(value) {
				if n, err := strconv.Atoi(f); err == nil {
					nums = append(nums, n)
					if len(nums) == 2 {
						break
					}
				}
			}
			if len(nums) == 2 {
				current.Width, current.Height = nums[0], nums[1]
			}
		case "Main Display":
			current.Primary = value == "Yes"
		}
	}
	flush()
	return displays
}

const windowsScreensScript = `Add-Type -AssemblyName System.Windows.Forms; ` +
	`[System.Windows.Forms.Screen]::AllScreens | ForEach-Object { ` +
	`"{0},{1},{2},{3},{4},{5}" -f $_.DeviceName,$_.Bounds.X,$_.Bounds.Y,$_.Bounds.Width,$_.Bounds.Height,$_.Primary }`

// parseWindowsScreens parses lines of "name,x,y,width,height,primary".
func parseWindowsScreens(output string) []Display {
	var displays []Display
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		parts := strings.Split(strings.TrimSpace(line), ",")
		if len(parts) != 6 {
			continue
		}
		var nums [4]int
		valid := true
		for i := range nums {
			n, err := strconv.Atoi(strings.TrimSpace(parts[i+1]))
			if err != nil {
				valid = false
				break
			}
			nums[i] = n
		}
		if !valid {
			continue
		}
		displays = append(displays, Display{
			Index:   len(displays),
			Name:    strings.TrimPrefix(parts[0], `\\.\`),
			X:       nums[0],
			Y:       nums[1],
			Width:   nums[2],
			Height:  nums[3],
			Primary: strings.EqualFold(strings.TrimSpace(parts[5]), "true"),
		})
	}
	return displays
}
