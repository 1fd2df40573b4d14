package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMacOSDisplays(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Display
	}{
		{
			name: "built-in and external",
			input: `Graphics/Displays:

    Apple M4 Max:

      Chipset Model: Apple M4 Max
      Type: GPU
      Bus: Built-In
      Displays:
        Color LCD:
          Display Type: Built-in Liquid Retina XDR Display
          Resolution: 3456 x 2234 Retina
          Mirror: Off
          Online: Yes
        Mi 27 NU:
          Resolution: 3840 x 2160 (2160p/4K UHD 1 - Ultra High Definition)
          Main Display: Yes
          Mirror: Off`,
			expected: []Display{
				{Index: 0, Name: "Color LCD", Width: 3456, Height: 2234},
				{Index: 1, Name: "Mi 27 NU", Width: 3840, Height: 2160, Primary: true},
			},
		},
		{
			name: "single display",
			input: `Graphics/Displays:

    Apple GPU:

      Displays:
        Display 1:
          Resolution: 1920 x 1080
          Main Display: Yes`,
			expected: []Display{
				{Index: 0, Name: "Display 1", Width: 1920, Height: 1080, Primary: true},
			},
		},
		{
			name: "display without resolution is skipped",
			input: `Graphics/Displays:

    Apple GPU:

      Displays:
        Sidecar:
          Mirror: Off
        Display 2:
          Resolution: 2560 x 1440`,
			expected: []Display{
				{Index: 0, Name: "Display 2", Width: 2560, Height: 1440},
			},
		},
		{
			name:     "no displays section",
			input:    "Graphics/Displays:\n\n    Apple GPU:\n      Chipset Model: Apple GPU\n",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseMacOSDisplays(tt.input))
		})
	}
}

func TestParseXrandrMonitors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Display
	}{
		{
			name: "two monitors",
			input: `Monitors: 2
 0: +*eDP-1 1920/344x1080/194+0+0  eDP-1
 1: +HDMI-1 2560/597x1440/336+1920+0  HDMI-1
`,
			expected: []Display{
				{Index: 0, Name: "eDP-1", Width: 1920, Height: 1080, Primary: true},
				{Index: 1, Name: "HDMI-1", Width: 2560, Height: 1440, X: 1920},
			},
		},
		{
			name:     "no monitors",
			input:    "Monitors: 0\n",
			expected: nil,
		},
		{
			name: "malformed geometry",
			input: `Monitors: 1
 0: +*VIRTUAL1 garbage  VIRTUAL1
`,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseXrandrMonitors(tt.input))
		})
	}
}

func TestParseWindowsScreens(t *testing.T) {
	input := "\\\\.\\DISPLAY1,0,0,2560,1440,True\r\n\\\\.\\DISPLAY2,-1920,0,1920,1080,False\r\nbogus line\r\n"
	got := parseWindowsScreens(input)
	assert.Equal(t, []Display{
		{Index: 0, Name: "DISPLAY1", Width: 2560, Height: 1440, Primary: true},
		{Index: 1, Name: "DISPLAY2", Width: 1920, Height: 1080, X: -1920},
	}, got)
}

func TestPickPrimary(t *testing.T) {
	_, err := pickPrimary(nil)
	assert.ErrorIs(t, err, ErrNoDisplays)

	d, err := pickPrimary([]Display{{Index: 0, Name: "a"}, {Index: 1, Name: "b", Primary: true}})
	require.NoError(t, err)
	assert.Equal(t, "b", d.Name)

	d, err = pickPrimary([]Display{{Index: 0, Name: "a"}, {Index: 1, Name: "b"}})
	require.NoError(t, err)
	assert.Equal(t, "a", d.Name)
}
