package tui

import (
	"fmt"
	"strings"

	"binaural/internal/audio"
	"binaural/internal/config"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))
)

var (
	keyQuit = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	keyUp   = key.NewBinding(key.WithKeys("up", "k"))
	keyDown = key.NewBinding(key.WithKeys("down", "j"))
	keyOK   = key.NewBinding(key.WithKeys("enter"))
	keyBack = key.NewBinding(key.WithKeys("esc"))
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	CaptureScreen ScreenType = iota // pick the 7.1 input
	RenderScreen                    // pick the stereo output
	ConfigScreen                    // pick the sample rate
)

// Selection is what the picker returns once confirmed.
type Selection struct {
	InputDevice  int
	OutputDevice int
	SampleRate   float64
	Confirmed    bool
}

// Flags renders the selection as command line flags for the run command.
func (s Selection) Flags() string {
	return fmt.Sprintf("--input-device %d --output-device %d --sample-rate %.0f", s.InputDevice, s.OutputDevice, s.SampleRate)
}

// DeviceListModel is the Bubble Tea model of the device picker. Only
// devices able to carry the required channel count are selectable on each
// screen.
type DeviceListModel struct {
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType
	fetch         func() ([]audio.Device, error)

	selection            Selection
	availableSampleRates []float64
	sampleRateIndex      int
}

// Init initializes the Bubble Tea model
func (m DeviceListModel) Init() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		devices, err := fetch()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// eligible reports whether device i may be chosen on the current screen.
func (m DeviceListModel) eligible(i int) bool {
	switch m.activeScreen {
	case CaptureScreen:
		return m.devices[i].CanCapture(config.NumInputChannels)
	case RenderScreen:
		return m.devices[i].CanRender(config.NumOutputChannels)
	}
	return false
}

// firstEligible moves the cursor to the first selectable device.
func (m *DeviceListModel) firstEligible() {
	for i := range m.devices {
		if m.eligible(i) {
			m.selectedIndex = i
			return
		}
	}
	m.selectedIndex = 0
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		m.firstEligible()
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, keyQuit) || m.err != nil {
			return m, tea.Quit
		}

		switch m.activeScreen {
		case CaptureScreen, RenderScreen:
			switch {
			case key.Matches(msg, keyUp):
				m.move(-1)
			case key.Matches(msg, keyDown):
				m.move(1)
			case key.Matches(msg, keyBack) && m.activeScreen == RenderScreen:
				m.activeScreen = CaptureScreen
				m.selectedIndex = m.selection.InputDevice
			case key.Matches(msg, keyOK) && len(m.devices) > 0 && m.eligible(m.selectedIndex):
				if m.activeScreen == CaptureScreen {
					m.selection.InputDevice = m.devices[m.selectedIndex].ID
					m.activeScreen = RenderScreen
					m.firstEligible()
				} else {
					m.selection.OutputDevice = m.devices[m.selectedIndex].ID
					m.enterConfig()
				}
			}

		case ConfigScreen:
			switch {
			case key.Matches(msg, keyBack):
				m.activeScreen = RenderScreen
				m.selectedIndex = m.selection.OutputDevice
			case key.Matches(msg, keyUp):
				if m.sampleRateIndex > 0 {
					m.sampleRateIndex--
				}
			case key.Matches(msg, keyDown):
				if m.sampleRateIndex < len(m.availableSampleRates)-1 {
					m.sampleRateIndex++
				}
			case key.Matches(msg, keyOK):
				m.selection.SampleRate = m.availableSampleRates[m.sampleRateIndex]
				m.selection.Confirmed = true
				return m, tea.Quit
			}
		}
		m.refresh()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// move steps the cursor to the next selectable device in direction dir.
func (m *DeviceListModel) move(dir int) {
	for i := m.selectedIndex + dir; i >= 0 && i < len(m.devices); i += dir {
		if m.eligible(i) {
			m.selectedIndex = i
			return
		}
	}
}

func (m *DeviceListModel) enterConfig() {
	m.activeScreen = ConfigScreen
	m.availableSampleRates = []float64{44100, 48000, 88200, 96000}

	// Both devices must run at the session rate; start from the render default.
	def := m.devices[m.selectedIndex].DefaultSampleRate
	m.sampleRateIndex = 1
	for i, rate := range m.availableSampleRates {
		if rate == def {
			m.sampleRateIndex = i
			break
		}
	}
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ConfigScreen {
		m.viewport.SetContent(m.renderDeviceConfig())
	} else {
		m.viewport.SetContent(m.renderDevices())
	}
}

// View renders the UI
func (m DeviceListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress any key to exit.", m.err)
	}

	var title, help string
	switch m.activeScreen {
	case CaptureScreen:
		title = titleStyle.Render("Select 7.1 Capture Device")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Select • q: Quit")
	case RenderScreen:
		title = titleStyle.Render("Select Stereo Render Device")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Select • Esc: Back • q: Quit")
	default:
		title = titleStyle.Render("Session Configuration")
		help = infoStyle.Render("↑/↓: Change Value • Enter: Confirm • Esc: Back • q: Quit")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// renderDevices formats the device list
func (m DeviceListModel) renderDevices() string {
	var sb strings.Builder

	if len(m.devices) == 0 {
		return "No audio devices found."
	}

	for i, device := range m.devices {
		deviceInfo := fmt.Sprintf("[%d] %s (%s)\n",
			device.ID, device.Name, device.Kind())
		deviceInfo += fmt.Sprintf("    Input channels: %d, Output channels: %d\n",
			device.MaxInputChannels, device.MaxOutputChannels)
		deviceInfo += fmt.Sprintf("    Default sample rate: %.0f Hz\n",
			device.DefaultSampleRate)

		switch {
		case !m.eligible(i):
			deviceInfo = dimStyle.Render(deviceInfo)
		case i == m.selectedIndex:
			deviceInfo = highlightStyle.Render(deviceInfo)
		}

		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderDeviceConfig formats the configuration screen
func (m DeviceListModel) renderDeviceConfig() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Capture: [%d] %s\n", m.selection.InputDevice, m.nameOf(m.selection.InputDevice))
	fmt.Fprintf(&sb, "Render:  [%d] %s\n\n", m.selection.OutputDevice, m.nameOf(m.selection.OutputDevice))
	sb.WriteString("Sample Rate:\n")

	for i, rate := range m.availableSampleRates {
		marker := " "
		if i == m.sampleRateIndex {
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", marker, rate)
		if i == m.sampleRateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}

	return sb.String()
}

func (m DeviceListModel) nameOf(id int) string {
	for _, d := range m.devices {
		if d.ID == id {
			return d.Name
		}
	}
	return "?"
}

// Selection returns the devices and rate chosen so far.
func (m DeviceListModel) Selection() Selection { return m.selection }

// NewDeviceListModel creates a picker that lists devices with fetch.
func NewDeviceListModel(fetch func() ([]audio.Device, error)) DeviceListModel {
	return DeviceListModel{
		activeScreen: CaptureScreen,
		fetch:        fetch,
		selection: Selection{
			InputDevice:  config.DefaultDeviceID,
			OutputDevice: config.DefaultDeviceID,
			SampleRate:   config.DefaultSampleRate,
		},
	}
}

// StartDeviceListUI runs the picker and returns what the user confirmed.
func StartDeviceListUI() (Selection, error) {
	p := tea.NewProgram(
		NewDeviceListModel(audio.GetDevices),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		return Selection{}, err
	}
	return final.(DeviceListModel).Selection(), nil
}
