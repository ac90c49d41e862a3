package formats

import (
	"bufio"
	"fmt"
	"math"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"medview/pkg/ndarray"
)

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	secondaryCaptureSOP    = "1.2.840.10008.5.1.4.1.1.7"
	implementationClassUID = "2.25.302582917543212883734316384117340366785"
)

type dicomCodec struct{}

// Decode reads the first frame of a DICOM file. Native pixel data is shaped
// (rows, cols, samples) with the modality rescale applied; encapsulated
// frames are decoded through the image codecs.
func (dicomCodec) Decode(path string) (*Dataset, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, err
	}
	meta := readMetadata(&ds)

	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data: %w", err)
	}
	info := dicom.MustGetPixelDataInfo(pixelElem.Value)
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("pixel data holds no frames")
	}
	meta.Frames = len(info.Frames)

	fr := info.Frames[0]
	var arr *ndarray.Array
	if fr.Encapsulated {
		img, err := fr.GetImage()
		if err != nil {
			return nil, fmt.Errorf("decode encapsulated frame: %w", err)
		}
		arr = ImageToArray(img)
	} else {
		arr, err = nativeFrameToArray(fr.NativeData, intValue(&ds, tag.PixelRepresentation) == 1)
		if err != nil {
			return nil, err
		}
	}

	slope, intercept := floatValue(&ds, tag.RescaleSlope, 1), floatValue(&ds, tag.RescaleIntercept, 0)
	if slope != 1 || intercept != 0 {
		arr = arr.Map(ndarray.Float64, func(v float64) float64 { return v*slope + intercept })
	}
	return &Dataset{Array: arr, Metadata: meta}, nil
}

func nativeFrameToArray(nf frame.NativeFrame, signed bool) (*ndarray.Array, error) {
	rows, cols := nf.Rows, nf.Cols
	if rows*cols != len(nf.Data) || len(nf.Data) == 0 {
		return nil, fmt.Errorf("frame of %dx%d holds %d pixels", rows, cols, len(nf.Data))
	}
	samples := len(nf.Data[0])
	var dtype ndarray.DType
	switch {
	case nf.BitsPerSample <= 8 && signed:
		dtype = ndarray.Int8
	case nf.BitsPerSample <= 8:
		dtype = ndarray.Uint8
	case nf.BitsPerSample <= 16 && signed:
		dtype = ndarray.Int16
	case nf.BitsPerSample <= 16:
		dtype = ndarray.Uint16
	case signed:
		dtype = ndarray.Int32
	default:
		dtype = ndarray.Uint32
	}
	bits := nf.BitsPerSample
	if bits <= 0 || bits > 32 {
		bits = 16
	}
	arr := ndarray.New(dtype, rows, cols, samples)
	data := arr.Data()
	for p, px := range nf.Data {
		if len(px) != samples {
			return nil, fmt.Errorf("pixel %d has %d samples, want %d", p, len(px), samples)
		}
		for s, v := range px {
			// two's complement samples may arrive zero-extended
			if signed && v >= 1<<(bits-1) {
				v -= 1 << bits
			}
			data[p*samples+s] = float64(v)
		}
	}
	return arr, nil
}

func readMetadata(ds *dicom.Dataset) *Metadata {
	m := &Metadata{
		PatientName:      stringValue(ds, tag.PatientName),
		PatientID:        stringValue(ds, tag.PatientID),
		PatientSex:       stringValue(ds, tag.PatientSex),
		PatientBirthDate: stringValue(ds, tag.PatientBirthDate),
		PatientAge:       stringValue(ds, tag.PatientAge),
		StudyDate:        stringValue(ds, tag.StudyDate),
		StudyDescription: stringValue(ds, tag.StudyDescription),
		SeriesNumber:     stringValue(ds, tag.SeriesNumber),
		Modality:         stringValue(ds, tag.Modality),
		InstitutionName:  stringValue(ds, tag.InstitutionName),
		Manufacturer:     stringValue(ds, tag.Manufacturer),
		Rows:             intValue(ds, tag.Rows),
		Columns:          intValue(ds, tag.Columns),
		BitsAllocated:    intValue(ds, tag.BitsAllocated),
		Elements:         make(map[string]string),
	}
	for _, e := range ds.Elements {
		if e.Value == nil || e.Value.ValueType() != dicom.Strings {
			continue
		}
		name := e.Tag.String()
		if info, err := tag.Find(e.Tag); err == nil && info.Name != "" {
			name = info.Name
		}
		m.Elements[name] = strings.Join(dicom.MustGetStrings(e.Value), `\`)
	}
	return m
}

func stringValue(ds *dicom.Dataset, t tag.Tag) string {
	e, err := ds.FindElementByTag(t)
	if err != nil || e.Value == nil || e.Value.ValueType() != dicom.Strings {
		return ""
	}
	return strings.TrimSpace(strings.Join(dicom.MustGetStrings(e.Value), `\`))
}

func intValue(ds *dicom.Dataset, t tag.Tag) int {
	e, err := ds.FindElementByTag(t)
	if err != nil || e.Value == nil {
		return 0
	}
	switch e.Value.ValueType() {
	case dicom.Ints:
		if v := dicom.MustGetInts(e.Value); len(v) > 0 {
			return v[0]
		}
	case dicom.Strings:
		if v := dicom.MustGetStrings(e.Value); len(v) > 0 {
			n, _ := strconv.Atoi(strings.TrimSpace(v[0]))
			return n
		}
	}
	return 0
}

func floatValue(ds *dicom.Dataset, t tag.Tag, def float64) float64 {
	s := stringValue(ds, t)
	if s == "" {
		return def
	}
	if i := strings.IndexByte(s, '\\'); i >= 0 {
		s = s[:i]
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}

// newUID derives a DICOM UID under the 2.25 root from a random UUID.
func newUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}

// Encode writes a single-frame secondary-capture DICOM file. Uint16 and
// Int16 data keep 16-bit samples; everything else is clamped to 8 bits.
func (dicomCodec) Encode(path string, ds *Dataset, _ Options) error {
	a := ds.Array
	if a.Rank() != 3 || a.Is3D() {
		return fmt.Errorf("array %v is not a 2D image", a.Shape())
	}
	rows, cols, samples := a.Dim(0), a.Dim(1), a.Dim(2)

	bits, signed := 8, false
	lo, hi := 0.0, 255.0
	switch a.DType() {
	case ndarray.Uint16:
		bits, hi = 16, 65535
	case ndarray.Int16:
		bits, signed, lo, hi = 16, true, -32768, 32767
	}
	photometric := "MONOCHROME2"
	if samples == 3 {
		photometric = "RGB"
	}
	pixelRep := 0
	if signed {
		pixelRep = 1
	}

	data := a.Data()
	pixels := make([][]int, rows*cols)
	for p := range pixels {
		px := make([]int, samples)
		for s := range px {
			px[s] = int(clamp(math.Round(data[p*samples+s]), lo, hi))
		}
		pixels[p] = px
	}

	sopInstance := newUID()
	now := time.Now()
	meta := ds.Metadata
	if meta == nil {
		meta = &Metadata{}
	}

	type entry struct {
		t tag.Tag
		v any
	}
	entries := []entry{
		{tag.FileMetaInformationVersion, []byte{0, 1}},
		{tag.MediaStorageSOPClassUID, []string{secondaryCaptureSOP}},
		{tag.MediaStorageSOPInstanceUID, []string{sopInstance}},
		{tag.TransferSyntaxUID, []string{explicitVRLittleEndian}},
		{tag.ImplementationClassUID, []string{implementationClassUID}},
		{tag.SOPClassUID, []string{secondaryCaptureSOP}},
		{tag.SOPInstanceUID, []string{sopInstance}},
		{tag.StudyDate, []string{orDefault(meta.StudyDate, now.Format("20060102"))}},
		{tag.Modality, []string{orDefault(meta.Modality, "OT")}},
		{tag.InstitutionName, []string{meta.InstitutionName}},
		{tag.StudyDescription, []string{meta.StudyDescription}},
		{tag.PatientName, []string{meta.PatientName}},
		{tag.PatientID, []string{meta.PatientID}},
		{tag.PatientBirthDate, []string{meta.PatientBirthDate}},
		{tag.PatientSex, []string{meta.PatientSex}},
		{tag.StudyInstanceUID, []string{newUID()}},
		{tag.SeriesInstanceUID, []string{newUID()}},
		{tag.SamplesPerPixel, []int{samples}},
		{tag.PhotometricInterpretation, []string{photometric}},
		{tag.Rows, []int{rows}},
		{tag.Columns, []int{cols}},
		{tag.BitsAllocated, []int{bits}},
		{tag.BitsStored, []int{bits}},
		{tag.HighBit, []int{bits - 1}},
		{tag.PixelRepresentation, []int{pixelRep}},
	}
	if samples == 3 {
		entries = append(entries, entry{tag.PlanarConfiguration, []int{0}})
	}
	entries = append(entries, entry{tag.PixelData, dicom.PixelDataInfo{
		Frames: []*frame.Frame{{
			NativeData: frame.NativeFrame{
				Data:          pixels,
				Rows:          rows,
				Cols:          cols,
				BitsPerSample: bits,
			},
		}},
	}})

	out := dicom.Dataset{}
	for _, en := range entries {
		e, err := dicom.NewElement(en.t, en.v)
		if err != nil {
			return fmt.Errorf("element %v: %w", en.t, err)
		}
		out.Elements = append(out.Elements, e)
	}
	sort.Slice(out.Elements, func(i, j int) bool {
		a, b := out.Elements[i].Tag, out.Elements[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	err = dicom.Write(w, out, dicom.SkipVRVerification())
	if err == nil {
		err = w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
