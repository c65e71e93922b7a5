// Package ffmpeg locates the ffmpeg binary and detects which hardware
// accelerators it can actually use on this machine.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/embedstream/streamcore/internal/util"
)

// Info is what a decode driver needs to know about the local ffmpeg
// installation before it can start a backend: where the binary is, what
// version it is, and which hardware accelerators it can use.
type Info struct {
	FFmpegPath   string
	Version      string
	MajorVersion int
	MinorVersion int
	HWAccels     []HWAccelInfo
}

// Detect resolves the ffmpeg binary (auto-detecting via PATH and the
// STREAMCORE_FFMPEG_BINARY env var when ffmpegPath is empty), reads its
// version, and probes its hardware accelerators.
func Detect(ctx context.Context, ffmpegPath string) (*Info, error) {
	if ffmpegPath == "" {
		resolved, err := util.FindBinary("ffmpeg", "STREAMCORE_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		ffmpegPath = resolved
	}

	version, err := getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}

	info := &Info{
		FFmpegPath:   ffmpegPath,
		Version:      version.Full,
		MajorVersion: version.Major,
		MinorVersion: version.Minor,
	}

	if hwAccels, err := NewHWAccelDetector(ffmpegPath).Detect(ctx); err == nil {
		info.HWAccels = hwAccels
	}

	return info, nil
}

// versionInfo holds parsed version information.
type versionInfo struct {
	Full  string
	Major int
	Minor int
}

// getVersion extracts version information from ffmpeg -version.
func getVersion(ctx context.Context, ffmpegPath string) (*versionInfo, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseVersionLine(string(output))
}

var ffmpegVersionRegexp = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersionLine pulls the version token out of ffmpeg -version's output,
// isolated from process execution so it can be exercised directly.
func parseVersionLine(output string) (*versionInfo, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		info := &versionInfo{Full: parts[2]}
		if matches := ffmpegVersionRegexp.FindStringSubmatch(parts[2]); len(matches) >= 3 {
			info.Major, _ = strconv.Atoi(matches[1])
			info.Minor, _ = strconv.Atoi(matches[2])
		}
		return info, nil
	}
	return nil, fmt.Errorf("failed to parse ffmpeg version")
}

// HWAccelType identifies a hardware acceleration method by ffmpeg's own
// -hwaccel name for it.
type HWAccelType string

const (
	HWAccelNone         HWAccelType = "none"
	HWAccelNVDEC        HWAccelType = "nvdec"        // NVIDIA NVDEC (decode)
	HWAccelNVENC        HWAccelType = "cuda"         // NVIDIA CUDA/NVENC
	HWAccelQSV          HWAccelType = "qsv"          // Intel Quick Sync
	HWAccelVAAPI        HWAccelType = "vaapi"        // VA-API (Linux)
	HWAccelVideoToolbox HWAccelType = "videotoolbox" // macOS
	HWAccelDXVA2        HWAccelType = "dxva2"        // Windows (older)
	HWAccelD3D11VA      HWAccelType = "d3d11va"      // Windows 8+
	HWAccelVulkan       HWAccelType = "vulkan"       // Cross-platform Vulkan
	HWAccelOCL          HWAccelType = "opencl"       // OpenCL
)

// HWAccelInfo describes one hardware accelerator ffmpeg reported, and
// whether it actually works on this machine.
type HWAccelInfo struct {
	Type       HWAccelType `json:"type"`
	Name       string      `json:"name"`
	Available  bool        `json:"available"`
	DeviceName string      `json:"device_name,omitempty"`
	Encoders   []string    `json:"encoders,omitempty"`
	Decoders   []string    `json:"decoders,omitempty"`
}

// HWAccelDetector probes ffmpeg's compiled-in hwaccels and tests each one
// with a throwaway decode/encode to see which are actually usable, since
// -hwaccels lists everything ffmpeg was built with regardless of whether
// the device or driver is present.
type HWAccelDetector struct {
	ffmpegPath string
}

// NewHWAccelDetector creates a new hardware acceleration detector.
func NewHWAccelDetector(ffmpegPath string) *HWAccelDetector {
	return &HWAccelDetector{ffmpegPath: ffmpegPath}
}

// Detect detects all available hardware accelerators.
func (d *HWAccelDetector) Detect(ctx context.Context) ([]HWAccelInfo, error) {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-hwaccels", "-hide_banner")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("getting hwaccels: %w", err)
	}

	supportedAccels := d.parseHWAccels(string(output))
	var results []HWAccelInfo

	for _, accel := range supportedAccels {
		info := HWAccelInfo{Type: HWAccelType(accel), Name: accel}

		available, deviceName := d.testAccel(ctx, accel)
		info.Available = available
		info.DeviceName = deviceName

		if available {
			info.Encoders = d.getAccelEncoders(ctx, accel)
			info.Decoders = d.getAccelDecoders(ctx, accel)
		}

		results = append(results, info)
	}

	return results, nil
}

// parseHWAccels parses the output of ffmpeg -hwaccels.
func (d *HWAccelDetector) parseHWAccels(output string) []string {
	var accels []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if inList && line != "" {
			accels = append(accels, line)
		}
	}
	return accels
}

// testAccel tests if a hardware accelerator is actually available.
func (d *HWAccelDetector) testAccel(ctx context.Context, accel string) (bool, string) {
	switch accel {
	case "cuda", "nvdec":
		return d.testNVIDIA(ctx)
	case "qsv":
		return d.testQSV(ctx)
	case "vaapi":
		return d.testVAAPI(ctx)
	case "videotoolbox":
		return d.testVideoToolbox(ctx)
	case "dxva2", "d3d11va":
		return d.testWindowsHW(ctx, accel)
	case "vulkan":
		return d.testVulkan(ctx)
	default:
		return true, ""
	}
}

// testNVIDIA tests NVIDIA CUDA/NVDEC availability.
func (d *HWAccelDetector) testNVIDIA(ctx context.Context) (bool, string) {
	cmd := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	output, err := cmd.Output()
	if err != nil {
		return false, ""
	}
	deviceName := strings.TrimSpace(strings.Split(string(output), "\n")[0])
	if deviceName == "" {
		return false, ""
	}

	testCmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-hide_banner",
		"-hwaccel", "cuda",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-c:v", "h264_nvenc",
		"-t", "0.01",
		"-f", "null", "-")
	if err := testCmd.Run(); err != nil {
		return false, ""
	}
	return true, deviceName
}

// testQSV tests Intel Quick Sync availability.
func (d *HWAccelDetector) testQSV(ctx context.Context) (bool, string) {
	testCmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-hide_banner",
		"-init_hw_device", "qsv=hw",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-vf", "hwupload=extra_hw_frames=64,format=qsv",
		"-c:v", "h264_qsv",
		"-t", "0.01",
		"-f", "null", "-")
	if err := testCmd.Run(); err != nil {
		return false, ""
	}
	return true, "Intel Quick Sync"
}

// testVAAPI tests VA-API availability (Linux).
func (d *HWAccelDetector) testVAAPI(ctx context.Context) (bool, string) {
	if runtime.GOOS != "linux" {
		return false, ""
	}

	var deviceName string
	for _, device := range []string{"/dev/dri/renderD128", "/dev/dri/renderD129"} {
		testCmd := exec.CommandContext(ctx, d.ffmpegPath,
			"-hide_banner",
			"-vaapi_device", device,
			"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
			"-vf", "format=nv12,hwupload",
			"-c:v", "h264_vaapi",
			"-t", "0.01",
			"-f", "null", "-")
		if err := testCmd.Run(); err == nil {
			deviceName = device
			break
		}
	}
	if deviceName == "" {
		return false, ""
	}
	return true, deviceName
}

// testVideoToolbox tests Apple VideoToolbox availability (macOS).
func (d *HWAccelDetector) testVideoToolbox(ctx context.Context) (bool, string) {
	if runtime.GOOS != "darwin" {
		return false, ""
	}
	testCmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-hide_banner",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-c:v", "h264_videotoolbox",
		"-t", "0.01",
		"-f", "null", "-")
	if err := testCmd.Run(); err != nil {
		return false, ""
	}
	return true, "Apple VideoToolbox"
}

// testWindowsHW tests Windows hardware acceleration.
func (d *HWAccelDetector) testWindowsHW(ctx context.Context, accel string) (bool, string) {
	if runtime.GOOS != "windows" {
		return false, ""
	}
	testCmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-hide_banner",
		"-hwaccel", accel,
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-t", "0.01",
		"-f", "null", "-")
	if err := testCmd.Run(); err != nil {
		return false, ""
	}
	return true, strings.ToUpper(accel)
}

// testVulkan tests Vulkan availability.
func (d *HWAccelDetector) testVulkan(ctx context.Context) (bool, string) {
	testCmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-hide_banner",
		"-init_hw_device", "vulkan",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-t", "0.01",
		"-f", "null", "-")
	if err := testCmd.Run(); err != nil {
		return false, ""
	}
	return true, "Vulkan"
}

// getAccelEncoders gets encoders associated with a hardware accelerator.
func (d *HWAccelDetector) getAccelEncoders(ctx context.Context, accel string) []string {
	suffixes := map[string][]string{
		"cuda":         {"_nvenc"},
		"qsv":          {"_qsv"},
		"vaapi":        {"_vaapi"},
		"videotoolbox": {"_videotoolbox"},
		"amf":          {"_amf"},
	}
	suffixList, ok := suffixes[accel]
	if !ok {
		return nil
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-encoders", "-hide_banner")
	output, err := cmd.Output()
	if err != nil {
		return nil
	}

	var encoders []string
	for _, line := range strings.Split(string(output), "\n") {
		for _, suffix := range suffixList {
			if strings.Contains(line, suffix) {
				if parts := strings.Fields(line); len(parts) >= 2 {
					encoders = append(encoders, parts[1])
				}
			}
		}
	}
	return encoders
}

// getAccelDecoders gets decoders associated with a hardware accelerator.
func (d *HWAccelDetector) getAccelDecoders(ctx context.Context, accel string) []string {
	patterns := map[string][]string{
		"cuda":  {"_cuvid"},
		"nvdec": {"_cuvid"},
		"qsv":   {"_qsv"},
	}
	patternList, ok := patterns[accel]
	if !ok || len(patternList) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-decoders", "-hide_banner")
	output, err := cmd.Output()
	if err != nil {
		return nil
	}

	var decoders []string
	for _, line := range strings.Split(string(output), "\n") {
		for _, pattern := range patternList {
			if strings.Contains(line, pattern) {
				if parts := strings.Fields(line); len(parts) >= 2 {
					decoders = append(decoders, parts[1])
				}
			}
		}
	}
	return decoders
}

// GetRecommendedHWAccel returns the best available hardware accelerator.
func GetRecommendedHWAccel(accels []HWAccelInfo) *HWAccelInfo {
	priority := []HWAccelType{
		HWAccelNVENC,
		HWAccelQSV,
		HWAccelVideoToolbox,
		HWAccelVAAPI,
		HWAccelD3D11VA,
		HWAccelDXVA2,
		HWAccelVulkan,
	}

	for _, prio := range priority {
		for i := range accels {
			if accels[i].Type == prio && accels[i].Available {
				return &accels[i]
			}
		}
	}
	return nil
}
