package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// Sentinel marks a block that holds a calibration.
	Sentinel byte = 0xAA
	// BlockSize is the number of bytes reserved per sensor slot.
	BlockSize = 32

	// Block layout
	r0Offset   = 0  // float64, little endian
	flagOffset = 8  // sentinel byte
	dateOffset = 12 // int64 unix milliseconds, little endian
	recordLen  = dateOffset + 8
)

// ErrNoCalibration is returned when a slot has never been calibrated.
var ErrNoCalibration = errors.New("store: no calibration recorded")

// CalibrationRecord is the persisted part of a sensor calibration.
type CalibrationRecord struct {
	R0   float64
	Date time.Time
}

// BlockAddress returns the first address of a sensor slot.
func BlockAddress(slot int) int {
	return slot * BlockSize
}

// SaveCalibration writes rec into slot and commits. An existing sentinel is
// cleared and committed before the payload changes, and the new sentinel is
// written last, so an interrupted save leaves the slot uncalibrated.
func SaveCalibration(nvs NVS, slot int, rec CalibrationRecord) error {
	base := BlockAddress(slot)

	flag, err := nvs.Read(base+flagOffset, 1)
	if err != nil {
		return fmt.Errorf("failed to read calibration flag: %w", err)
	}
	if flag[0] == Sentinel {
		if err := EraseCalibration(nvs, slot); err != nil {
			return err
		}
	}

	var r0 [8]byte
	binary.LittleEndian.PutUint64(r0[:], math.Float64bits(rec.R0))
	if err := nvs.Write(base+r0Offset, r0[:]); err != nil {
		return fmt.Errorf("failed to write R0: %w", err)
	}

	var date [8]byte
	binary.LittleEndian.PutUint64(date[:], uint64(rec.Date.UnixMilli()))
	if err := nvs.Write(base+dateOffset, date[:]); err != nil {
		return fmt.Errorf("failed to write calibration date: %w", err)
	}

	if err := nvs.Write(base+flagOffset, []byte{Sentinel}); err != nil {
		return fmt.Errorf("failed to write calibration flag: %w", err)
	}

	if err := nvs.Commit(); err != nil {
		return fmt.Errorf("failed to commit calibration: %w", err)
	}
	return nil
}

// LoadCalibration reads the record stored in slot. It returns
// ErrNoCalibration when the sentinel is absent. Range checks on R0 are left to
// the caller.
func LoadCalibration(nvs NVS, slot int) (CalibrationRecord, error) {
	block, err := nvs.Read(BlockAddress(slot), recordLen)
	if err != nil {
		return CalibrationRecord{}, fmt.Errorf("failed to read calibration block: %w", err)
	}

	if block[flagOffset] != Sentinel {
		return CalibrationRecord{}, ErrNoCalibration
	}

	r0 := math.Float64frombits(binary.LittleEndian.Uint64(block[r0Offset:]))
	millis := int64(binary.LittleEndian.Uint64(block[dateOffset:]))

	return CalibrationRecord{
		R0:   r0,
		Date: time.UnixMilli(millis),
	}, nil
}

// EraseCalibration clears the sentinel of slot and commits.
func EraseCalibration(nvs NVS, slot int) error {
	if err := nvs.Write(BlockAddress(slot)+flagOffset, []byte{0xFF}); err != nil {
		return fmt.Errorf("failed to erase calibration flag: %w", err)
	}
	return nvs.Commit()
}
