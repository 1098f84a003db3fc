package store

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"flight-replay/internal/logger"
	"flight-replay/internal/models"

	"golang.org/x/sys/unix"
)

// 快照文件格式: 16 字节头 (magic, version, count) + 定长记录行
const (
	snapshotMagic   = "FTRS"
	snapshotVersion = 1
	headerSize      = 16
)

// ErrBadSnapshot 快照文件损坏或版本不符
var ErrBadSnapshot = errors.New("store: invalid snapshot file")

// snapshotRow 快照中的单条记录 (全部 8 字节字段，无 padding)
type snapshotRow struct {
	TimestampNs      int64
	Mode             int64
	TimestampSeconds float64
	Lat              float64
	Lon              float64
	Alt              float64
	Vehicle          [4]float64
	Helmet           [4]float64
	North            float64
	East             float64
	Down             float64
}

const rowSize = int(unsafe.Sizeof(snapshotRow{}))

// Snapshot mmap 映射的记录快照
type Snapshot struct {
	data []byte        // mmap 映射的原始数据
	rows []snapshotRow // 零拷贝切片视图
}

// SourceHash 计算源文件的唯一标识 (文件名:大小:修改时间)
func SourceHash(sourcePath string) (string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", err
	}

	identifier := fmt.Sprintf("%s:%d:%d", filepath.Base(sourcePath), info.Size(), info.ModTime().UnixNano())
	hash := md5.Sum([]byte(identifier))
	return hex.EncodeToString(hash[:]), nil
}

func snapshotPath(dir, hash string) string {
	return filepath.Join(dir, hash+".frs")
}

// LoadSnapshot 使用 mmap 加载源文件对应的快照
func LoadSnapshot(dir, sourcePath string) (*Snapshot, error) {
	hash, err := SourceHash(sourcePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(snapshotPath(dir, hash))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := int(info.Size())
	if size < headerSize+rowSize || (size-headerSize)%rowSize != 0 {
		return nil, fmt.Errorf("%w: size %d", ErrBadSnapshot, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	if string(data[0:4]) != snapshotMagic || binary.LittleEndian.Uint32(data[4:8]) != snapshotVersion {
		unix.Munmap(data)
		return nil, fmt.Errorf("%w: bad header", ErrBadSnapshot)
	}
	count := int(binary.LittleEndian.Uint64(data[8:16]))
	if count != (size-headerSize)/rowSize {
		unix.Munmap(data)
		return nil, fmt.Errorf("%w: count %d does not match size", ErrBadSnapshot, count)
	}

	rows := unsafe.Slice((*snapshotRow)(unsafe.Pointer(&data[headerSize])), count)
	return &Snapshot{data: data, rows: rows}, nil
}

// Len 快照记录数
func (s *Snapshot) Len() int {
	return len(s.rows)
}

// Records 把快照行还原为遥测记录 (复制出 mmap 区域)
func (s *Snapshot) Records() []models.TelemetryRecord {
	records := make([]models.TelemetryRecord, len(s.rows))
	for i, row := range s.rows {
		rec := models.TelemetryRecord{
			TimestampSeconds:       row.TimestampSeconds,
			TimestampNs:            row.TimestampNs,
			Position:               models.Position{Lat: row.Lat, Lon: row.Lon, Alt: row.Alt},
			VehicleOrientation:     quaternionOf(row.Vehicle),
			HelmetOrientationLocal: quaternionOf(row.Helmet),
			Velocity:               models.VelocityNED{North: row.North, East: row.East, Down: row.Down},
			Mode:                   int(row.Mode),
		}
		rec.Derive()
		records[i] = rec
	}
	return records
}

// Close 释放 mmap 映射
func (s *Snapshot) Close() error {
	if s.data != nil {
		err := unix.Munmap(s.data)
		s.data, s.rows = nil, nil
		return err
	}
	return nil
}

// SaveSnapshot 将存储写入快照文件
func SaveSnapshot(dir, sourcePath string, s *RecordStore) error {
	hash, err := SourceHash(sourcePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	rows := make([]snapshotRow, len(s.records))
	for i, r := range s.records {
		rows[i] = snapshotRow{
			TimestampNs:      r.TimestampNs,
			Mode:             int64(r.Mode),
			TimestampSeconds: r.TimestampSeconds,
			Lat:              r.Position.Lat,
			Lon:              r.Position.Lon,
			Alt:              r.Position.Alt,
			Vehicle:          quaternionArray(r.VehicleOrientation),
			Helmet:           quaternionArray(r.HelmetOrientationLocal),
			North:            r.Velocity.North,
			East:             r.Velocity.East,
			Down:             r.Velocity.Down,
		}
	}

	header := make([]byte, headerSize)
	copy(header[0:4], snapshotMagic)
	binary.LittleEndian.PutUint32(header[4:8], snapshotVersion)
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(rows)))

	path := snapshotPath(dir, hash)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	// 直接写入结构体内存
	body := unsafe.Slice((*byte)(unsafe.Pointer(&rows[0])), len(rows)*rowSize)
	if _, err := f.Write(header); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	logger.LogInfo("[STORE] 快照已保存", "source", filepath.Base(sourcePath), "file", hash+".frs", "count", len(rows))
	return nil
}

// LoadCached 优先从快照加载，否则调用 load 解析源文件并写入快照
// dir 为空时不使用快照
func LoadCached(dir, sourcePath string, load func() ([]models.RawRecord, error)) (*RecordStore, error) {
	if dir != "" {
		snap, err := LoadSnapshot(dir, sourcePath)
		if err == nil {
			records := snap.Records()
			snap.Close()
			logger.LogInfo("[STORE] 命中快照", "source", filepath.Base(sourcePath), "count", len(records))
			return FromRecords(records)
		}
		if !errors.Is(err, os.ErrNotExist) {
			logger.LogWarn("[STORE] 快照不可用，重新解析", "error", err)
		}
	}

	raw, err := load()
	if err != nil {
		return nil, err
	}
	s, err := Build(raw)
	if err != nil {
		return nil, err
	}

	if dir != "" {
		if err := SaveSnapshot(dir, sourcePath, s); err != nil {
			logger.LogWarn("[STORE] 快照写入失败", "error", err)
		}
	}
	return s, nil
}

func quaternionOf(a [4]float64) models.Quaternion {
	return models.Quaternion{X: a[0], Y: a[1], Z: a[2], W: a[3]}
}

func quaternionArray(q models.Quaternion) [4]float64 {
	return [4]float64{q.X, q.Y, q.Z, q.W}
}
