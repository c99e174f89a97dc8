package process

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/sentinair/sentinair/pkg/config"
	"github.com/sentinair/sentinair/pkg/events"
	"github.com/sentinair/sentinair/pkg/monitors/base"
)

// Info holds best-effort metadata for one process launch. Every field is
// gathered by an independent extractor; a failed lookup leaves the zero
// value in place and never aborts the whole read.
type Info struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	Exe        string  `json:"exe"`
	Cmdline    string  `json:"cmdline"`
	PPID       int32   `json:"ppid"`
	Username   string  `json:"username"`
	CreateTime int64   `json:"create_time"`
	MemoryRSS  uint64  `json:"memory_rss"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Monitor polls the process table on a fixed interval and diffs PIDs to
// derive launch and termination events. Launches carry best-effort
// metadata and a suspicion flag that fires when at least two independent
// heuristics agree.
type Monitor struct {
	*base.BaseMonitor
	cfg       config.ProcessConfig
	knownPIDs map[int32]struct{}
}

// New creates a process monitor.
func New(cfg config.ProcessConfig, logger zerolog.Logger) *Monitor {
	return &Monitor{
		BaseMonitor: base.NewBaseMonitor("process", logger),
		cfg:         cfg,
	}
}

// Start begins process-table polling. The current process table becomes
// the initial known set so long-running processes are not replayed as
// launches.
func (m *Monitor) Start() error {
	stopCh, ok := m.BeginRun()
	if !ok {
		return nil
	}

	m.knownPIDs = make(map[int32]struct{})
	if procs, err := process.Processes(); err == nil {
		for _, p := range procs {
			m.knownPIDs[p.Pid] = struct{}{}
		}
	} else {
		m.Logger().Warn().Err(err).Msg("Failed to get initial process list.")
	}
	m.Logger().Info().Int("processes", len(m.knownPIDs)).Msg("Process monitoring started.")

	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	m.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.poll()
			case <-stopCh:
				return
			}
		}
	})
	return nil
}

// Stop halts polling.
func (m *Monitor) Stop() {
	if m.EndRun() {
		m.Logger().Info().Msg("Process monitoring stopped.")
	}
}

func (m *Monitor) poll() {
	procs, err := process.Processes()
	if err != nil {
		m.Logger().Warn().Err(err).Msg("Failed to get process list.")
		return
	}

	current := make(map[int32]*process.Process, len(procs))
	for _, p := range procs {
		current[p.Pid] = p
	}

	for pid, p := range current {
		if _, known := m.knownPIDs[pid]; !known {
			m.handleLaunch(p)
		}
	}
	for pid := range m.knownPIDs {
		if _, alive := current[pid]; !alive {
			m.handleTermination(pid)
		}
	}

	m.knownPIDs = make(map[int32]struct{}, len(current))
	for pid := range current {
		m.knownPIDs[pid] = struct{}{}
	}
	m.UpdateMetrics("known_processes", len(current))
}

func (m *Monitor) handleLaunch(p *process.Process) {
	info := Collect(p)
	suspicious := IsSuspicious(info)

	payload := map[string]any{
		"event_type":    "launch",
		"process_id":    info.PID,
		"app_name":      info.Name,
		"app_path":      info.Exe,
		"command_line":  info.Cmdline,
		"parent_pid":    info.PPID,
		"username":      info.Username,
		"create_time":   info.CreateTime,
		"memory_usage":  info.MemoryRSS,
		"cpu_percent":   info.CPUPercent,
		"is_suspicious": suspicious,
	}

	if suspicious {
		m.Logger().Warn().
			Int32("pid", info.PID).
			Str("name", info.Name).
			Str("path", info.Exe).
			Msg("Suspicious process launched.")
	}

	m.Emit(events.New(events.EventProcessLaunch, payload))
}

func (m *Monitor) handleTermination(pid int32) {
	payload := map[string]any{
		"event_type": "termination",
		"process_id": pid,
	}
	m.Emit(events.New(events.EventProcessLaunch, payload))
}

// Collect gathers process metadata field by field. Lookups race with
// process exit by nature, so every extractor tolerates failure
// independently.
func Collect(p *process.Process) Info {
	info := Info{PID: p.Pid, Name: "unknown", Exe: "unknown"}

	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if exe, err := p.Exe(); err == nil {
		info.Exe = exe
	}
	if cmdline, err := p.Cmdline(); err == nil {
		info.Cmdline = cmdline
	}
	if ppid, err := p.Ppid(); err == nil {
		info.PPID = ppid
	}
	if username, err := p.Username(); err == nil {
		info.Username = username
	}
	if created, err := p.CreateTime(); err == nil {
		info.CreateTime = created
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		info.MemoryRSS = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	return info
}

var (
	suspiciousPathFragments = []string{
		"temp", "tmp", "appdata", "roaming", "downloads", "recycle",
	}
	suspiciousNames = []string{
		"cmd.exe", "powershell.exe", "wscript.exe", "cscript.exe",
		"regsvr32.exe", "rundll32.exe", "mshta.exe", "certutil.exe",
	}
	suspiciousCmdlinePatterns = []string{
		"powershell -enc", "powershell -e ", "cmd /c echo",
		"wget", "curl", "invoke-webrequest", "downloadstring",
		"base64", "bypass", "hidden", "noprofile",
	}
	trustedPathFragments = []string{
		"program files", "windows", "system32", "/usr/", "/bin/", "/sbin/", "/opt/",
	}
	unusualLocationFragments = []string{"temp", "appdata", "downloads"}
)

// highMemoryBytes marks an implausibly large resident set for a freshly
// launched process.
const highMemoryBytes = 500 * 1024 * 1024

// IsSuspicious applies the launch heuristics and reports true when at
// least two of them fire. A single indicator is too noisy to act on.
func IsSuspicious(info Info) bool {
	indicators := 0

	exe := strings.ToLower(info.Exe)
	if containsAny(exe, suspiciousPathFragments) {
		indicators++
	}

	name := strings.ToLower(info.Name)
	for _, s := range suspiciousNames {
		if name == s {
			indicators++
			break
		}
	}

	if containsAny(strings.ToLower(info.Cmdline), suspiciousCmdlinePatterns) {
		indicators++
	}

	if exe != "" && exe != "unknown" &&
		!containsAny(exe, trustedPathFragments) &&
		containsAny(exe, unusualLocationFragments) {
		indicators++
	}

	if info.MemoryRSS > highMemoryBytes {
		indicators++
	}

	return indicators >= 2
}

func containsAny(s string, fragments []string) bool {
	for _, fragment := range fragments {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}
