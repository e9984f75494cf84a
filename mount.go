package main

import (
	"context"
	"fmt"
	"sort"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/jgerrish/image-rider/disk"
)

// imageRoot presents a decoded image read-only:
//
//	info.txt
//	track-NN[-sS]/sector-II.bin
//	regions/<name>.bin
type imageRoot struct {
	fs.Inode

	filename string
	img      *disk.DiskImage
}

// blob is a read-only file whose content is computed once at mount time.
type blob struct {
	fs.Inode

	content []byte
}

var _ = (fs.NodeOnAdder)((*imageRoot)(nil))
var _ = (fs.NodeReader)((*blob)(nil))
var _ = (fs.NodeOpener)((*blob)(nil))
var _ = (fs.NodeGetattrer)((*blob)(nil))

func newImageRoot(filename string, img *disk.DiskImage) *imageRoot {
	return &imageRoot{filename: filename, img: img}
}

func trackDirName(t *disk.Track, sides int) string {
	if sides > 1 {
		return fmt.Sprintf("track-%02d-s%d", t.Index, t.Side)
	}
	return fmt.Sprintf("track-%02d", t.Index)
}

// tree lists every file of the view with its content, keyed by path.
func (r *imageRoot) tree() (map[string][]byte, error) {
	files := make(map[string][]byte)

	var info bytesWriter
	writeInfo(&info, newDiskRecord(r.filename, r.img))
	files["info.txt"] = info.b

	g := r.img.Geometry()
	sides := g.Sides()
	for _, t := range g.Ordered() {
		dir := trackDirName(t, sides)
		for _, s := range t.LogicalOrder() {
			data, err := disk.Extract(r.img, disk.SelectSectors(t.Index, s.ID).OnSide(t.Side))
			if err != nil {
				return nil, err
			}
			files[fmt.Sprintf("%s/sector-%02d.bin", dir, s.ID)] = data
		}
	}

	for _, name := range r.img.Regions() {
		data, err := disk.Extract(r.img, disk.SelectRegion(name))
		if err != nil {
			return nil, err
		}
		files["regions/"+name+".bin"] = data
	}
	return files, nil
}

type bytesWriter struct {
	b []byte
}

func (w *bytesWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (r *imageRoot) OnAdd(ctx context.Context) {
	files, err := r.tree()
	if err != nil {
		fmt.Printf("ERROR: %s\n", err)
		return
	}

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	dirs := map[string]*fs.Inode{"": &r.Inode}
	var ino uint64 = 1000
	for _, n := range names {
		parent := &r.Inode
		dir, base := splitPath(n)
		if dir != "" {
			p, ok := dirs[dir]
			if !ok {
				ino++
				p = r.NewPersistentInode(ctx, &fs.Inode{}, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: ino})
				r.AddChild(dir, p, true)
				dirs[dir] = p
			}
			parent = p
		}
		ino++
		child := parent.NewPersistentInode(ctx, &blob{content: files[n]}, fs.StableAttr{Ino: ino})
		parent.AddChild(base, child, true)
	}
}

func splitPath(p string) (string, string) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i], p[i+1:]
		}
	}
	return "", p
}

func (b *blob) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(b.content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(b.content)) {
		end = int64(len(b.content))
	}
	return fuse.ReadResultData(b.content[off:end]), 0
}

func (b *blob) Open(ctx context.Context, openFlags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if openFlags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (b *blob) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0444
	out.Size = uint64(len(b.content))
	return 0
}

func mountImage(filename string, img *disk.DiskImage, mountPoint string, debug bool) error {
	opts := &fs.Options{}
	opts.Debug = debug
	opts.MountOptions.Name = "image-rider"

	server, err := fs.Mount(mountPoint, newImageRoot(filename, img), opts)
	if err != nil {
		return err
	}
	fmt.Printf("Mounted %s on %s\n", filename, mountPoint)
	server.Wait()
	return nil
}
