// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"

	"micscope/internal/audio"

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
			Foreground(lipgloss.Color("#6C6C6C"))
)

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// DeviceListModel is the interactive input device picker. Only devices
// with input channels can be chosen.
type DeviceListModel struct {
	devices       []audio.Device
	selectedIndex int
	chosen        *audio.Device
	viewport      viewport.Model
	ready         bool
	err           error
	fetch         func() ([]audio.Device, error)
}

// NewDeviceListModel creates a new device list model
func NewDeviceListModel() DeviceListModel {
	return DeviceListModel{fetch: audio.HostDevices}
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

// Chosen returns the device picked with Enter, or nil.
func (m DeviceListModel) Chosen() *audio.Device {
	return m.chosen
}

// Update handles input and updates the model
func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.renderDevices())

	case devicesMsg:
		m.devices = msg.devices
		m.selectedIndex = m.nextInput(-1, 1)
		if m.selectedIndex < 0 {
			m.selectedIndex = 0
		}
		m.viewport.SetContent(m.renderDevices())

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if m.err != nil || key.Matches(msg, key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"))) {
			return m, tea.Quit
		}

		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
			if i := m.nextInput(m.selectedIndex, -1); i >= 0 {
				m.selectedIndex = i
			}
		case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
			if i := m.nextInput(m.selectedIndex, 1); i >= 0 {
				m.selectedIndex = i
			}
		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			if m.selectedIndex < len(m.devices) && m.devices[m.selectedIndex].MaxInputChannels > 0 {
				d := m.devices[m.selectedIndex]
				m.chosen = &d
				return m, tea.Quit
			}
		}
		m.viewport.SetContent(m.renderDevices())
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// nextInput returns the index of the next input-capable device after from
// in direction step, or -1.
func (m DeviceListModel) nextInput(from, step int) int {
	for i := from + step; i >= 0 && i < len(m.devices); i += step {
		if m.devices[i].MaxInputChannels > 0 {
			return i
		}
	}
	return -1
}

// View renders the UI
func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress any key to exit.", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render("Input Devices")
	help := infoStyle.Render("↑/↓: Navigate • Enter: Select • q: Quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// renderDevices formats the device list
func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No audio devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		deviceInfo := fmt.Sprintf("[%d] %s (%s)\n", device.ID, device.Name, device.Type())
		deviceInfo += fmt.Sprintf("    Input channels: %d, Default sample rate: %.0f Hz\n",
			device.MaxInputChannels, device.DefaultSampleRate)

		switch {
		case device.MaxInputChannels == 0:
			deviceInfo = dimStyle.Render(deviceInfo)
		case i == m.selectedIndex:
			deviceInfo = highlightStyle.Render(deviceInfo)
		}

		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}
	return sb.String()
}

// PickDevice runs the device picker and returns the chosen device, or nil
// when the user quit without choosing.
func PickDevice() (*audio.Device, error) {
	p := tea.NewProgram(NewDeviceListModel(), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m := final.(DeviceListModel)
	if m.err != nil {
		return nil, m.err
	}
	return m.Chosen(), nil
}
