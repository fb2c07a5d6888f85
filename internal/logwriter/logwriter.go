// Package logwriter 把读数追加写入每台设备每天一个的 .dat 文件，设置快照写入 .par 文件。
package logwriter

import (
	"bufio"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"golang.org/x/time/rate"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/timestamp"
)

const (
	timeLayout = "2006.01.02 15:04:05.000"
	fileLayout = "20060102_150405"
	timeHeader = "YYYY.MM.DD hh:mm:ss.mmm"
)

// Options 写入参数
type Options struct {
	Dir          string
	Tag          string        // 文件名尾部标签
	Flush        time.Duration // 刷盘周期
	FlushLines   int           // 缓冲行数达到后立即刷盘
	Daily        bool          // 每天零点换文件
	BacklogLimit int           // 写盘失败时内存中最多保留的行数
	Start        time.Time     // 进程启动时间，用于当天第一个文件的文件名
	Logger       logger.LoggingClient
	OnError      func(error) // 写盘失败回调，持锁调用，不得回调 Writer
	// Columns 按设备类型给出固定列；返回 false 时按当天第一条读数确定
	Columns func(model.DeviceType) (Columns, bool)
}

// Columns .dat 文件表头中时间之后的列
type Columns struct {
	Channels []string
	Derived  []string
	Status   bool
}

// fileState 换日状态机
type fileState int

const (
	activeFile fileState = iota
	rollingOver
)

func (s fileState) String() string {
	if s == rollingOver {
		return "ROLLING_OVER"
	}
	return "ACTIVE_FILE"
}

// stream 一个输出文件及其待写行
type stream struct {
	path    string
	header  string
	f       *os.File
	bw      *bufio.Writer
	pending []string
}

type deviceLog struct {
	name     string
	serial   string
	day      string
	state    fileState
	columns  []string
	derived  []string
	status   bool
	dat, par *stream
	settings *model.Settings
}

// entry 内存积压中的一行
type entry struct {
	path, header, line string
}

// Writer 日志文件的唯一写入者
type Writer struct {
	opts Options
	lc   logger.LoggingClient

	mu      sync.Mutex
	devices map[string]*deviceLog
	backlog []entry
	dropped uint64
	warn    rate.Sometimes

	trace func(event, path string)
}

// New 创建 Writer；目录在首次写入时创建
func New(opts Options) *Writer {
	if opts.Logger == nil {
		opts.Logger = logger.NewClient("logwriter", "INFO")
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Flush <= 0 {
		opts.Flush = 2 * time.Second
	}
	if opts.FlushLines <= 0 {
		opts.FlushLines = 512
	}
	return &Writer{
		opts:    opts,
		lc:      opts.Logger,
		devices: make(map[string]*deviceLog),
		warn:    rate.Sometimes{Interval: 30 * time.Second},
	}
}

// Write 追加一条读数；serial 为设备序列号，可以为空
func (w *Writer) Write(r model.StampedReading, serial string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := w.device(r.Device, serial)
	rollErr := w.roll(d, r.Time)
	if d.columns == nil {
		d.setColumns(w.columns(r))
	}
	err := w.append(d.dat, d.format(r))
	return errors.Join(rollErr, err)
}

// WriteSettings 设置与上次不同才追加到 .par 文件
func (w *Writer) WriteSettings(s model.Settings, serial string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := w.device(s.Device, serial)
	rollErr := w.roll(d, s.Time)
	if d.settings != nil && d.settings.Equal(s) {
		return rollErr
	}
	if d.par.header == "" {
		names := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			names[i] = f.Name
		}
		d.par.header = timeHeader + "," + strings.Join(names, ",")
	}
	snap := s
	snap.Fields = append([]model.Channel(nil), s.Fields...)
	d.settings = &snap
	if err := w.append(d.par, settingsLine(s.Time, s.Fields)); err != nil {
		return errors.Join(rollErr, err)
	}
	return errors.Join(rollErr, w.flushStream(d.par))
}

// Run 按刷盘周期写盘，直到 ctx 取消
func (w *Writer) Run(ctx context.Context) error {
	t := time.NewTicker(w.opts.Flush)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			// 错误已经通过 OnError 上报
			_ = w.Flush()
		}
	}
}

// Flush 写出积压和缓冲
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushAll()
}

// CloseDevice 关闭一台设备的文件
func (w *Writer) CloseDevice(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.devices[name]
	if !ok {
		return nil
	}
	delete(w.devices, name)
	return errors.Join(w.closeStream(d.dat), w.closeStream(d.par))
}

// Close 刷盘并关闭全部文件
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for name, d := range w.devices {
		errs = append(errs, w.closeStream(d.dat), w.closeStream(d.par))
		delete(w.devices, name)
	}
	errs = append(errs, w.drain())
	if n := len(w.backlog); n > 0 {
		w.lc.Errorf("log writer: %d lines could not be written to %s", n, w.opts.Dir)
	}
	return errors.Join(errs...)
}

// Backlog 内存中积压的行数和因超限丢弃的行数
func (w *Writer) Backlog() (pending int, dropped uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.backlog), w.dropped
}

// State 设备文件所处状态
func (w *Writer) State(device string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d, ok := w.devices[device]; ok {
		return d.state.String()
	}
	return ""
}

// Paths 设备当前的 .dat 和 .par 路径
func (w *Writer) Paths(device string) (dat, par string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.devices[device]
	if !ok || d.day == "" {
		return "", "", false
	}
	return d.dat.path, d.par.path, true
}

func (w *Writer) device(name, serial string) *deviceLog {
	d, ok := w.devices[name]
	if !ok {
		d = &deviceLog{name: name, serial: serial, dat: &stream{}, par: &stream{}}
		w.devices[name] = d
	}
	if d.serial == "" && serial != "" && d.day == "" {
		d.serial = serial
	}
	return d
}

// roll 确定 t 所在的文件；跨过零点时先关闭旧文件再切换到新文件
func (w *Writer) roll(d *deviceLog, t time.Time) error {
	key := timestamp.DayKey(t)
	if d.day == "" {
		start := t
		if !w.opts.Start.IsZero() && timestamp.DayKey(w.opts.Start) == key {
			start = w.opts.Start
		} else if w.opts.Daily && !w.opts.Start.IsZero() {
			start = timestamp.DayStart(t)
		}
		d.day = key
		w.setPaths(d, start)
		return nil
	}
	if !w.opts.Daily || key <= d.day {
		return nil
	}

	d.state = rollingOver
	err := errors.Join(w.closeStream(d.dat), w.closeStream(d.par))
	w.lc.Infof("log writer: %s rolled over to %s", d.name, key)
	d.day = key
	w.setPaths(d, timestamp.DayStart(t))
	d.state = activeFile
	if d.settings != nil {
		// 新文件以当前设置开头
		if aerr := w.append(d.par, settingsLine(timestamp.DayStart(t), d.settings.Fields)); aerr != nil {
			err = errors.Join(err, aerr)
		}
	}
	return err
}

func (w *Writer) setPaths(d *deviceLog, start time.Time) {
	base := start.Format(fileLayout)
	if d.serial != "" {
		base += "_" + d.serial
	}
	base += "_" + d.name
	if w.opts.Tag != "" {
		base += "_" + w.opts.Tag
	}
	d.dat.path = filepath.Join(w.opts.Dir, base+".dat")
	d.par.path = filepath.Join(w.opts.Dir, base+".par")
}

// columns 固定列优先，否则取这条读数自带的通道
func (w *Writer) columns(r model.StampedReading) Columns {
	if w.opts.Columns != nil {
		if c, ok := w.opts.Columns(r.Type); ok {
			return c
		}
	}
	c := Columns{Status: r.Status != ""}
	for _, ch := range r.Channels {
		c.Channels = append(c.Channels, ch.Name)
	}
	for _, ch := range r.Derived {
		c.Derived = append(c.Derived, ch.Name)
	}
	return c
}

func (d *deviceLog) setColumns(c Columns) {
	d.columns = append([]string{}, c.Channels...)
	d.derived = append([]string(nil), c.Derived...)
	d.status = c.Status
	head := append([]string{timeHeader}, d.columns...)
	head = append(head, d.derived...)
	if d.status {
		head = append(head, "status")
	}
	d.dat.header = strings.Join(append(head, "flags"), ",")
}

// format 按表头列顺序输出一行，缺失的通道写 nan
func (d *deviceLog) format(r model.StampedReading) string {
	var b strings.Builder
	b.WriteString(r.Time.Format(timeLayout))
	for _, name := range d.columns {
		v, _ := r.Value(name)
		b.WriteByte(',')
		b.WriteString(formatValue(v))
	}
	for _, name := range d.derived {
		v, _ := r.DerivedValue(name)
		b.WriteByte(',')
		b.WriteString(formatValue(v))
	}
	if d.status {
		b.WriteByte(',')
		b.WriteString(r.Status)
	}
	b.WriteByte(',')
	b.WriteString(r.Flags.String())
	return b.String()
}

func settingsLine(t time.Time, fields []model.Channel) string {
	var b strings.Builder
	b.WriteString(t.Format(timeLayout))
	for _, f := range fields {
		b.WriteByte(',')
		b.WriteString(formatValue(f.Value))
	}
	return b.String()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// append 追加一行；有积压时保持顺序，写入积压
func (w *Writer) append(s *stream, line string) error {
	if len(w.backlog) > 0 {
		for _, l := range s.pending {
			w.push(entry{s.path, s.header, l})
		}
		s.pending = nil
		w.push(entry{s.path, s.header, line})
		return nil
	}
	s.pending = append(s.pending, line)
	if len(s.pending) >= w.opts.FlushLines {
		return w.flushStream(s)
	}
	return nil
}

func (w *Writer) flushAll() error {
	if err := w.drain(); err != nil {
		w.report(model.NewLogError(w.opts.Dir, err))
		return err
	}
	var errs []error
	for _, d := range w.devices {
		errs = append(errs, w.flushStream(d.dat), w.flushStream(d.par))
	}
	return errors.Join(errs...)
}

func (w *Writer) flushStream(s *stream) error {
	if len(s.pending) == 0 {
		return nil
	}
	if s.f == nil {
		if err := w.open(s); err != nil {
			return w.fail(s, err)
		}
	}
	for _, l := range s.pending {
		s.bw.WriteString(l)
		s.bw.WriteByte('\n')
	}
	if err := s.bw.Flush(); err != nil {
		return w.fail(s, err)
	}
	s.pending = s.pending[:0]
	return nil
}

func (w *Writer) open(s *stream) error {
	f, fresh, err := openAppend(s.path)
	if err != nil {
		return err
	}
	s.f = f
	s.bw = bufio.NewWriterSize(f, 64<<10)
	if fresh && s.header != "" {
		s.bw.WriteString(s.header)
		s.bw.WriteByte('\n')
	}
	if w.trace != nil {
		w.trace("open", s.path)
	}
	w.lc.Debugf("log writer: opened %s", s.path)
	return nil
}

func openAppend(path string) (*os.File, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}
	return f, st.Size() == 0, nil
}

func (w *Writer) closeStream(s *stream) error {
	err := w.flushStream(s)
	if s.f != nil {
		if cerr := s.f.Close(); cerr != nil && err == nil {
			err = w.fail(s, cerr)
		}
		if w.trace != nil {
			w.trace("close", s.path)
		}
	}
	s.f, s.bw = nil, nil
	return err
}

// fail 写盘失败：关闭文件，待写行转入内存积压
func (w *Writer) fail(s *stream, cause error) error {
	for _, l := range s.pending {
		w.push(entry{s.path, s.header, l})
	}
	s.pending = nil
	if s.f != nil {
		s.f.Close()
		s.f, s.bw = nil, nil
	}
	err := model.NewLogError(s.path, cause)
	w.report(err)
	return err
}

func (w *Writer) push(e entry) {
	if w.opts.BacklogLimit > 0 && len(w.backlog) >= w.opts.BacklogLimit {
		w.backlog = w.backlog[1:]
		w.dropped++
	}
	w.backlog = append(w.backlog, e)
}

func (w *Writer) report(err error) {
	w.warn.Do(func() {
		w.lc.Warnf("log writer: %v; keeping %d lines in memory", err, len(w.backlog))
	})
	if w.opts.OnError != nil {
		w.opts.OnError(err)
	}
}

// drain 按顺序写出内存积压，失败时保留剩余部分
func (w *Writer) drain() error {
	if len(w.backlog) == 0 {
		return nil
	}
	files := make(map[string]*os.File)
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for i, e := range w.backlog {
		f, ok := files[e.path]
		if !ok {
			var fresh bool
			var err error
			if f, fresh, err = openAppend(e.path); err != nil {
				w.backlog = w.backlog[i:]
				return err
			}
			files[e.path] = f
			if fresh && e.header != "" {
				if _, err := f.WriteString(e.header + "\n"); err != nil {
					w.backlog = w.backlog[i:]
					return err
				}
			}
		}
		if _, err := f.WriteString(e.line + "\n"); err != nil {
			w.backlog = w.backlog[i:]
			return err
		}
	}
	w.lc.Infof("log writer: wrote %d buffered lines", len(w.backlog))
	w.backlog = nil
	return nil
}
