package utils

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/nci/gomemcache/memcache"
)

// CachedMask is the final cloudmask band of an image together with the
// cloud and shadow pixel counts observed when it was computed.
type CachedMask struct {
	Mask         *Band
	CloudPixels  int
	ShadowPixels int
}

// MaskCache stores computed masks so repeated runs with the same
// parameters skip the cloud, shadow and combine stages.
type MaskCache interface {
	Get(key string) (*CachedMask, bool)
	Set(key string, entry *CachedMask) error
}

// MaskCacheKey hashes the acquisition index together with every
// parameter that influences the mask.
func MaskCacheKey(index string, p *MaskParams) string {
	desc := fmt.Sprintf("%s|%g|%g|%g|%g|%s|%s|%s|%g|%g|%g|%g",
		index, p.CloudProbThresh, p.NIRDarkThresh, p.CloudProjDist, p.Buffer,
		p.NIRBand, p.SCLBand, p.ProbabilityBand, p.WaterClass, p.ReflectanceScale,
		p.ProjectionScale, p.MaskScale)
	buff := md5.Sum([]byte(desc))
	return "s2mask_v2_" + hex.EncodeToString(buff[:])
}

type MemcacheMaskCache struct {
	client     *memcache.Client
	Expiration int32
}

func NewMemcacheMaskCache(addr ...string) *MemcacheMaskCache {
	return &MemcacheMaskCache{client: memcache.New(addr...)}
}

func (c *MemcacheMaskCache) Get(key string) (*CachedMask, bool) {
	item, err := c.client.Get(key)
	if err != nil {
		return nil, false
	}
	entry, err := DecodeCachedMask(item.Value)
	if err != nil {
		return nil, false
	}
	return entry, true
}

func (c *MemcacheMaskCache) Set(key string, entry *CachedMask) error {
	payload, err := EncodeCachedMask(entry)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{Key: key, Value: payload, Expiration: c.Expiration})
}

// MaxCachedMaskPixels bounds the size of a decoded mask.
const MaxCachedMaskPixels = 1 << 28

type maskHeader struct {
	Width        uint32
	Height       uint32
	Scale        float64
	CloudPixels  uint32
	ShadowPixels uint32
}

// EncodeCachedMask packs an entry as a header followed by two bitsets:
// pixel values then validity.
func EncodeCachedMask(entry *CachedMask) ([]byte, error) {
	mask := entry.Mask
	if mask == nil {
		return nil, fmt.Errorf("cached mask has no band")
	}
	n := mask.Size()
	if n > MaxCachedMaskPixels {
		return nil, fmt.Errorf("mask of %d pixels exceeds cache limit %d", n, MaxCachedMaskPixels)
	}
	if entry.CloudPixels < 0 || entry.CloudPixels > n || entry.ShadowPixels < 0 || entry.ShadowPixels > n {
		return nil, fmt.Errorf("mask pixel counts %d/%d out of range for %d pixels", entry.CloudPixels, entry.ShadowPixels, n)
	}

	var buf bytes.Buffer
	hdr := maskHeader{
		Width:        uint32(mask.Width),
		Height:       uint32(mask.Height),
		Scale:        mask.Scale,
		CloudPixels:  uint32(entry.CloudPixels),
		ShadowPixels: uint32(entry.ShadowPixels),
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}

	values := make([]byte, (n+7)/8)
	valid := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if mask.Data[i] != 0 {
			values[i/8] |= 1 << uint(i%8)
		}
		if mask.IsValid(i) {
			valid[i/8] |= 1 << uint(i%8)
		}
	}
	buf.Write(values)
	buf.Write(valid)
	return buf.Bytes(), nil
}

// DecodeCachedMask reverses EncodeCachedMask. The header is checked
// against the payload length before any pixel storage is allocated.
func DecodeCachedMask(payload []byte) (*CachedMask, error) {
	r := bytes.NewReader(payload)
	var hdr maskHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("mask header: %v", err)
	}

	pixels := uint64(hdr.Width) * uint64(hdr.Height)
	if pixels > MaxCachedMaskPixels {
		return nil, fmt.Errorf("mask of %dx%d pixels exceeds cache limit %d", hdr.Width, hdr.Height, MaxCachedMaskPixels)
	}
	if uint64(hdr.CloudPixels) > pixels || uint64(hdr.ShadowPixels) > pixels {
		return nil, fmt.Errorf("mask pixel counts %d/%d out of range for %d pixels", hdr.CloudPixels, hdr.ShadowPixels, pixels)
	}
	n := int(pixels)
	nBytes := (n + 7) / 8
	body := payload[len(payload)-r.Len():]
	if len(body) != 2*nBytes {
		return nil, fmt.Errorf("mask payload size %d, expected %d", len(body), 2*nBytes)
	}

	mask := NewBand(int(hdr.Width), int(hdr.Height), hdr.Scale)
	values, valid := body[:nBytes], body[nBytes:]
	for i := 0; i < n; i++ {
		if values[i/8]&(1<<uint(i%8)) != 0 {
			mask.Data[i] = 1
		}
		mask.Valid[i] = valid[i/8]&(1<<uint(i%8)) != 0
	}
	return &CachedMask{Mask: mask, CloudPixels: int(hdr.CloudPixels), ShadowPixels: int(hdr.ShadowPixels)}, nil
}
