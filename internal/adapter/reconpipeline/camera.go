package reconpipeline

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// CameraPosition is a world-space point, used by the viewer redirect
// endpoints to seed the initial camera (§6).
type CameraPosition struct {
	X, Y, Z float64
}

// FirstCameraPosition reads the first registered image's pose out of
// COLMAP's text-format images.txt under sparseDir and returns the camera
// center in world coordinates (C = -R^T * t). When rotate180 is set, the
// position is mirrored around the Y axis, matching the convention the
// viewer's default camera orientation expects.
//
// Returns ok=false when the sparse model is missing or has no registered
// images, in which case callers fall back to the viewer's default camera.
func FirstCameraPosition(sparseDir string, rotate180 bool) (pos CameraPosition, ok bool, err error) {
	path := sparseDir + "/images.txt"
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CameraPosition{}, false, nil
		}
		return CameraPosition{}, false, fmt.Errorf("op=reconpipeline.camera path=%s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return CameraPosition{}, false, fmt.Errorf("op=reconpipeline.camera: malformed image record: %q", line)
		}
		qw, _ := strconv.ParseFloat(fields[1], 64)
		qx, _ := strconv.ParseFloat(fields[2], 64)
		qy, _ := strconv.ParseFloat(fields[3], 64)
		qz, _ := strconv.ParseFloat(fields[4], 64)
		tx, _ := strconv.ParseFloat(fields[5], 64)
		ty, _ := strconv.ParseFloat(fields[6], 64)
		tz, _ := strconv.ParseFloat(fields[7], 64)

		cx, cy, cz := cameraCenter(qw, qx, qy, qz, tx, ty, tz)
		if rotate180 {
			cx, cz = -cx, -cz
		}
		return CameraPosition{X: cx, Y: cy, Z: cz}, true, nil
	}
	if err := scanner.Err(); err != nil {
		return CameraPosition{}, false, err
	}
	return CameraPosition{}, false, nil
}

// cameraCenter computes C = -R^T * t from a COLMAP quaternion+translation
// pose, i.e. the camera's position in world space.
func cameraCenter(qw, qx, qy, qz, tx, ty, tz float64) (float64, float64, float64) {
	n := math.Sqrt(qw*qw + qx*qx + qy*qy + qz*qz)
	if n == 0 {
		return 0, 0, 0
	}
	qw, qx, qy, qz = qw/n, qx/n, qy/n, qz/n

	// Rotation matrix R from unit quaternion (COLMAP convention: world-to-camera).
	r00 := 1 - 2*qy*qy - 2*qz*qz
	r01 := 2*qx*qy - 2*qz*qw
	r02 := 2*qx*qz + 2*qy*qw
	r10 := 2*qx*qy + 2*qz*qw
	r11 := 1 - 2*qx*qx - 2*qz*qz
	r12 := 2*qy*qz - 2*qx*qw
	r20 := 2*qx*qz - 2*qy*qw
	r21 := 2*qy*qz + 2*qx*qw
	r22 := 1 - 2*qx*qx - 2*qy*qy

	// C = -R^T * t
	cx := -(r00*tx + r10*ty + r20*tz)
	cy := -(r01*tx + r11*ty + r21*tz)
	cz := -(r02*tx + r12*ty + r22*tz)
	return cx, cy, cz
}
