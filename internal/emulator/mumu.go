package emulator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MuMu Player constants
const (
	MuMuBasePort      = 16384
	MuMuPortIncrement = 32

	vmPrefix = "MuMuPlayerGlobal-12.0-"
)

// MuMuVersion represents MuMu Player version
type MuMuVersion int

const (
	MuMuUnknown MuMuVersion = iota
	MuMuV5                  // MuMu Player 5 (older)
	MuMuV12                 // MuMu Player 12 (newer)
)

func (v MuMuVersion) String() string {
	switch v {
	case MuMuV5:
		return "MuMu 5"
	case MuMuV12:
		return "MuMu 12"
	default:
		return "unknown"
	}
}

// MuMuInstance represents a MuMu Player instance
type MuMuInstance struct {
	Index      int
	ADBPort    int
	Version    MuMuVersion
	PlayerName string // Custom player name from config, also the window title
}

// MuMuExtraConfig represents the extra_config.json structure
type MuMuExtraConfig struct {
	RelateId       string `json:"relateId"`
	PlayerName     string `json:"playerName"`
	Status         int    `json:"status"`
	ErrorCode      int    `json:"errorCode"`
	CreateTime     int64  `json:"createTime"`
	ImportFilePath string `json:"importFilePath"`
}

// MuMuManager reads a MuMu Player installation
type MuMuManager struct {
	folderPath string
	version    MuMuVersion
}

// NewMuMuManager creates a new MuMu manager
func NewMuMuManager(folderPath string) *MuMuManager {
	mgr := &MuMuManager{folderPath: folderPath}
	mgr.detectVersion()
	return mgr
}

// detectVersion detects MuMu Player version
func (m *MuMuManager) detectVersion() {
	if m.folderPath == "" {
		m.version = MuMuUnknown
		return
	}

	paths := []string{
		m.folderPath,
		filepath.Join(m.folderPath, "MuMuPlayerGlobal-12.0"),
		filepath.Join(m.folderPath, "MuMu Player 12"),
	}
	for _, path := range paths {
		if _, err := os.Stat(filepath.Join(path, "nx_main")); err == nil {
			m.version = MuMuV12
			return
		}
	}

	m.version = MuMuV5
}

// GetVersion returns detected MuMu version
func (m *MuMuManager) GetVersion() MuMuVersion {
	return m.version
}

// ADBPort returns the local adb port MuMu assigns to an instance
func ADBPort(index int) int {
	return MuMuBasePort + index*MuMuPortIncrement
}

// ReadInstanceConfig reads the extra_config.json for a specific instance
func (m *MuMuManager) ReadInstanceConfig(instanceIndex int) (*MuMuExtraConfig, error) {
	configPath := filepath.Join(m.folderPath, "vms", fmt.Sprintf("%s%d", vmPrefix, instanceIndex), "configs", "extra_config.json")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config for instance %d: %w", instanceIndex, err)
	}

	var config MuMuExtraConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config for instance %d: %w", instanceIndex, err)
	}

	return &config, nil
}

// GetAllInstanceConfigs reads all available instance configurations from the vms folder
func (m *MuMuManager) GetAllInstanceConfigs() (map[int]*MuMuExtraConfig, error) {
	configs := make(map[int]*MuMuExtraConfig)

	vmsPath := filepath.Join(m.folderPath, "vms")
	entries, err := os.ReadDir(vmsPath)
	if err != nil {
		return configs, fmt.Errorf("failed to read vms folder: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// "MuMuPlayerGlobal-12.0-1" -> 1, skipping "-base"
		instanceStr, ok := strings.CutPrefix(entry.Name(), vmPrefix)
		if !ok {
			continue
		}
		var instanceIndex int
		if _, err := fmt.Sscanf(instanceStr, "%d", &instanceIndex); err != nil {
			continue
		}

		config, err := m.ReadInstanceConfig(instanceIndex)
		if err != nil {
			continue
		}
		configs[instanceIndex] = config
	}

	return configs, nil
}

// FindInstances lists configured instances ordered by index
func (m *MuMuManager) FindInstances() ([]*MuMuInstance, error) {
	configs, err := m.GetAllInstanceConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to load instance configs: %w", err)
	}

	instances := make([]*MuMuInstance, 0, len(configs))
	for index, config := range configs {
		instances = append(instances, &MuMuInstance{
			Index:      index,
			ADBPort:    ADBPort(index),
			Version:    m.version,
			PlayerName: config.PlayerName,
		})
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Index < instances[j].Index })
	return instances, nil
}

// ResolveInstance accepts an index or a player name
func (m *MuMuManager) ResolveInstance(ref string) (*MuMuInstance, error) {
	// A missing install still resolves numeric refs
	instances, findErr := m.FindInstances()

	var index int
	if _, err := fmt.Sscanf(ref, "%d", &index); err == nil && fmt.Sprint(index) == strings.TrimSpace(ref) {
		for _, inst := range instances {
			if inst.Index == index {
				return inst, nil
			}
		}
		// Unconfigured instances still have a predictable port
		return &MuMuInstance{Index: index, ADBPort: ADBPort(index), Version: m.version}, nil
	}

	if findErr != nil {
		return nil, findErr
	}
	for _, inst := range instances {
		if strings.EqualFold(inst.PlayerName, ref) {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("instance %q not found", ref)
}

// ADBPath returns the adb binary bundled with the installation
func (m *MuMuManager) ADBPath() (string, error) {
	candidates := []string{
		filepath.Join(m.folderPath, "shell", "adb.exe"),
		filepath.Join(m.folderPath, "MuMuPlayerGlobal-12.0", "shell", "adb.exe"),
		filepath.Join(m.folderPath, "MuMu Player 12", "shell", "adb.exe"),
		filepath.Join(m.folderPath, "shell", "adb"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no bundled adb in %s", m.folderPath)
}
