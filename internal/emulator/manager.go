package emulator

import (
	"fmt"
	"strconv"
	"sync"

	"jordanella.com/cost-ruler/internal/adb"
)

// Manager hands out adb capture sources for MuMu instances
type Manager struct {
	mumuMgr *MuMuManager
	adbPath string

	mu        sync.Mutex
	instances map[int]*Instance
}

// Instance represents a managed emulator instance with ADB
type Instance struct {
	MuMu *MuMuInstance
	ADB  *adb.Controller
}

// NewManager creates a new emulator manager. An empty adbPath falls back to
// the adb bundled with MuMu, then to adb.FindADB.
func NewManager(folderPath, adbPath string) *Manager {
	return &Manager{
		mumuMgr:   NewMuMuManager(folderPath),
		adbPath:   adbPath,
		instances: make(map[int]*Instance),
	}
}

func (m *Manager) resolveADB() (string, error) {
	if m.adbPath != "" {
		return adb.FindADB(m.adbPath)
	}
	if p, err := m.mumuMgr.ADBPath(); err == nil {
		return p, nil
	}
	return adb.FindADB("")
}

// Connect resolves ref (index or player name) and connects adb to it
func (m *Manager) Connect(ref string) (*Instance, error) {
	mumu, err := m.mumuMgr.ResolveInstance(ref)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.instances[mumu.Index]; ok && inst.ADB.IsConnected() {
		return inst, nil
	}

	adbPath, err := m.resolveADB()
	if err != nil {
		return nil, err
	}

	ctrl := adb.NewController(adbPath, strconv.Itoa(mumu.ADBPort))
	if err := ctrl.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect ADB to instance %d: %w", mumu.Index, err)
	}

	inst := &Instance{MuMu: mumu, ADB: ctrl}
	m.instances[mumu.Index] = inst
	return inst, nil
}

// DisconnectAll disconnects ADB from all instances
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for index, inst := range m.instances {
		inst.ADB.Disconnect()
		delete(m.instances, index)
	}
}

// Instances lists the configured MuMu instances
func (m *Manager) Instances() ([]*MuMuInstance, error) {
	return m.mumuMgr.FindInstances()
}

// GetMuMuVersion returns the detected MuMu version
func (m *Manager) GetMuMuVersion() MuMuVersion {
	return m.mumuMgr.GetVersion()
}
