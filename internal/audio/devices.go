package audio

import (
	"fmt"
	"io"

	"binaural/internal/config"

	"github.com/gordonklaus/portaudio"
)

// PortAudio entry points, replaced in tests.
var (
	paLibInitialize              = portaudio.Initialize
	paLibTerminate               = portaudio.Terminate
	paDevicesFunc                = portaudio.Devices
	paLibDefaultInputDeviceFunc  = portaudio.DefaultInputDevice
	paLibDefaultOutputDeviceFunc = portaudio.DefaultOutputDevice
)

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
// This should be deferred immediately after Initialize().
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// HostDevices returns every device PortAudio knows about. PortAudio must be
// initialized.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, fmt.Errorf("listing audio devices: %w", err)
	}
	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = deviceFromInfo(i, info)
	}
	return devices, nil
}

func deviceFromInfo(id int, info *portaudio.DeviceInfo) Device {
	d := Device{
		ID:                id,
		Name:              info.Name,
		MaxInputChannels:  info.MaxInputChannels,
		MaxOutputChannels: info.MaxOutputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
		LowInputLatency:   info.DefaultLowInputLatency,
		LowOutputLatency:  info.DefaultLowOutputLatency,
	}
	if info.HostApi != nil {
		d.HostAPI = info.HostApi.Name
	}
	return d
}

// GetDevices initializes PortAudio, lists the devices and terminates again.
// It is meant for commands that run outside a session.
func GetDevices() ([]Device, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	defer Terminate()
	return HostDevices()
}

// InputDevice retrieves the capture device for deviceID. If deviceID is
// config.MinDeviceID (-1) the system default input device is returned.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	return resolveDevice(deviceID, paLibDefaultInputDeviceFunc)
}

// OutputDevice retrieves the render device for deviceID, or the system
// default output device for config.MinDeviceID.
func OutputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	return resolveDevice(deviceID, paLibDefaultOutputDeviceFunc)
}

func resolveDevice(deviceID int, defaultDevice func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if deviceID == config.MinDeviceID {
		device, err := defaultDevice()
		if err != nil {
			return nil, fmt.Errorf("no default device: %w", err)
		}
		return device, nil
	}

	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	return devices[deviceID], nil
}

// ListDevices writes information about every device to w:
// - Device ID, name and host API
// - Device type (Input/Output/Input+Output)
// - Channel count, marking devices able to carry the 7.1 capture or stereo render
// - Default sample rate
// - Low latency figures
func ListDevices(w io.Writer, devices []Device) {
	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")

	for _, device := range devices {
		fmt.Fprintf(w, "[%d] %s (%s)", device.ID, device.Name, device.Kind())
		if device.HostAPI != "" {
			fmt.Fprintf(w, " via %s", device.HostAPI)
		}
		fmt.Fprintln(w)

		var roles string
		if device.CanCapture(config.NumInputChannels) {
			roles += " [7.1 capture]"
		}
		if device.CanRender(config.NumOutputChannels) {
			roles += " [stereo render]"
		}
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d%s\n", device.MaxInputChannels, device.MaxOutputChannels, roles)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)
		fmt.Fprintf(w, "    Latency: Input=%.2fms, Output=%.2fms\n",
			device.LowInputLatency.Seconds()*1000,
			device.LowOutputLatency.Seconds()*1000)
		fmt.Fprintln(w)
	}
}
