package detect

// parseYOLOv8 decodes a [1, rows, anchors] YOLOv8 output where rows is
// 4 box values (cx, cy, w, h in input pixels) followed by one score per
// class. Each anchor contributes its best-scoring class if the score reaches
// floor.
func parseYOLOv8(data []float32, rows, anchors int, floor float32, scaler boxScaler) []Detection {
	if rows < 5 || len(data) < rows*anchors {
		return nil
	}
	classes := rows - 4

	var dets []Detection
	for i := 0; i < anchors; i++ {
		bestClass, bestScore := -1, float32(0)
		for c := 0; c < classes; c++ {
			if s := data[(4+c)*anchors+i]; s > bestScore {
				bestClass, bestScore = c, s
			}
		}
		if bestClass < 0 || bestScore < floor {
			continue
		}

		box := scaler.rect(data[i], data[anchors+i], data[2*anchors+i], data[3*anchors+i])
		if box.Empty() {
			continue
		}
		dets = append(dets, Detection{ClassID: bestClass, Confidence: bestScore, Box: box})
	}
	return dets
}
