package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found in a frame, in original image coordinates.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Detector runs RetinaFace (det_10g) face detection. Landmark outputs
// are not bound; the gate only needs face regions for cropping.
type Detector struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	scoreTensors []*ort.Tensor[float32]
	bboxTensors  []*ort.Tensor[float32]
	threshold    float32
	inputW       int
	inputH       int
}

// det_10g emits anchor-based outputs at three strides, two anchors per
// feature-map cell, without a batch dimension.
var detStrides = []int{8, 16, 32}

const detAnchors = 2

func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	type spec struct {
		name string
		rows int64
		cols int64
	}
	scoreSpecs := []spec{
		{"448", 12800, 1}, // stride 8: 80*80*2
		{"471", 3200, 1},  // stride 16: 40*40*2
		{"494", 800, 1},   // stride 32: 20*20*2
	}
	bboxSpecs := []spec{
		{"451", 12800, 4},
		{"474", 3200, 4},
		{"497", 800, 4},
	}

	var names []string
	var values []ort.Value
	var scoreTensors, bboxTensors []*ort.Tensor[float32]

	destroyAll := func() {
		inputTensor.Destroy()
		for _, t := range scoreTensors {
			t.Destroy()
		}
		for _, t := range bboxTensors {
			t.Destroy()
		}
	}

	for _, sp := range scoreSpecs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(sp.rows, sp.cols))
		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("create score tensor %s: %w", sp.name, err)
		}
		scoreTensors = append(scoreTensors, t)
		names = append(names, sp.name)
		values = append(values, t)
	}
	for _, sp := range bboxSpecs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(sp.rows, sp.cols))
		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("create bbox tensor %s: %w", sp.name, err)
		}
		bboxTensors = append(bboxTensors, t)
		names = append(names, sp.name)
		values = append(values, t)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{inputTensor},
		values,
		nil,
	)
	if err != nil {
		destroyAll()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:      session,
		inputTensor:  inputTensor,
		scoreTensors: scoreTensors,
		bboxTensors:  bboxTensors,
		threshold:    threshold,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Detect runs detection on preprocessed CHW input. origW/origH scale the
// boxes back to source image coordinates.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	dets := d.decode(origW, origH)
	return nonMaxSuppress(dets, 0.4), nil
}

func (d *Detector) decode(origW, origH int) []Detection {
	var dets []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range detStrides {
		scores := d.scoreTensors[si].GetData()
		bboxes := d.bboxTensors[si].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < detAnchors; a++ {
					if scores[idx] >= d.threshold {
						// Outputs are distances from the anchor
						// center to the box edges, in stride units.
						ax := float32(cx) * st
						ay := float32(cy) * st

						x1 := clamp((ax-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW))
						y1 := clamp((ay-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH))
						x2 := clamp((ax+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW))
						y2 := clamp((ay+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH))

						dets = append(dets, Detection{
							BBox:       [4]float32{x1, y1, x2, y2},
							Confidence: scores[idx],
						})
					}
					idx++
				}
			}
		}
	}

	return dets
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.scoreTensors {
		t.Destroy()
	}
	for _, t := range d.bboxTensors {
		t.Destroy()
	}
}

func nonMaxSuppress(dets []Detection, iouThreshold float32) []Detection {
	if len(dets) == 0 {
		return dets
	}

	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	keep := make([]bool, len(dets))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(dets); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(dets); j++ {
			if keep[j] && iou(dets[i].BBox, dets[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var out []Detection
	for i, det := range dets {
		if keep[i] {
			out = append(out, det)
		}
	}
	return out
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	inter := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter

	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
