package chain

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type Config struct {
	BlocksDir string
	Workers   int    // how many block files to read in parallel
	MaxHeight uint64 // stop loading blocks at this height. 0 = no limit
	Magic     []byte // network magic in front of every block. defaults to MainNetMagic
}

type blockReader struct {
	workers   int
	maxHeight uint64

	// without a block index file heights are unknown up front, so files are
	// read one at a time and heights continue from one file to the next
	indexed    bool
	nextHeight uint64

	blockFilesMu sync.Mutex
	blockFiles   []*BlockFile

	onBlockMu  sync.Mutex
	onBlockFn  func(block Block) error
	onBlockErr error
}

type Reader interface {
	// OnBlock sets the callback for parsed blocks. Calls are serialized, so fn
	// doesn't need to be safe for concurrent use. If fn returns an error no
	// more blocks are delivered and Load returns it.
	OnBlock(fn func(Block) error)
	Load() error
}

func NewReader(config Config) (Reader, error) {
	magic := config.Magic
	if len(magic) == 0 {
		magic = MainNetMagic
	}

	blockFiles, indexed, err := blockFilesOrderedByHeight(config.BlocksDir)
	if err != nil {
		return nil, err
	}
	for _, bf := range blockFiles {
		bf.magic = magic
	}

	workers := config.Workers
	if workers < 1 {
		workers = 1
	}
	if !indexed && workers > 1 {
		logrus.Infof("no block index, reading files with 1 worker instead of %d", workers)
		workers = 1
	}

	return &blockReader{
		workers:    workers,
		maxHeight:  config.MaxHeight,
		indexed:    indexed,
		blockFiles: blockFiles,
	}, nil
}

func (c *blockReader) nextBlockFile() *BlockFile {
	c.blockFilesMu.Lock()
	defer c.blockFilesMu.Unlock()

	if len(c.blockFiles) == 0 {
		return nil
	}

	next := c.blockFiles[0]
	c.blockFiles = c.blockFiles[1:]
	return next
}

func (c *blockReader) OnBlock(fn func(Block) error) {
	c.onBlockFn = fn
}

func (c *blockReader) notify(block Block) error {
	if c.onBlockFn == nil {
		return nil
	}
	c.onBlockMu.Lock()
	defer c.onBlockMu.Unlock()

	if c.onBlockErr != nil {
		return c.onBlockErr
	}
	c.onBlockErr = c.onBlockFn(block)
	return c.onBlockErr
}

// Load reads all block files and passes each block to the OnBlock callback.
// The first error from any worker is returned after all workers stop.
func (c *blockReader) Load() error {
	fileChan := make(chan *BlockFile)
	errs := make(chan error, c.workers)

	logrus.Infof("running %d workers", c.workers)

	wg := &sync.WaitGroup{}
	wg.Add(c.workers)
	for i := 0; i < c.workers; i++ {
		go func(i int) {
			defer wg.Done()
			if err := c.worker(i, fileChan); err != nil {
				errs <- err
			}
		}(i)
	}

	for {
		blockFile := c.nextBlockFile()
		if blockFile == nil {
			break
		}

		if c.maxHeight > 0 && blockFile.firstHeight > c.maxHeight {
			continue
		}

		fileChan <- blockFile
	}

	close(fileChan)
	wg.Wait()
	close(errs)

	return <-errs
}

func (c *blockReader) worker(workerNum int, blockFileChan chan *BlockFile) error {
	var failed error
	for bf := range blockFileChan {
		if failed != nil {
			// keep draining so Load doesn't block on the channel
			continue
		}
		failed = c.readFile(workerNum, bf)
	}
	return failed
}

func (c *blockReader) readFile(workerNum int, bf *BlockFile) error {
	if !c.indexed {
		// only one worker runs when there is no index
		bf.firstHeight = c.nextHeight
		bf.currHeight = c.nextHeight
		defer func() { c.nextHeight = bf.currHeight }()
	}
	if c.maxHeight > 0 && bf.firstHeight > c.maxHeight {
		return nil
	}

	defer func() {
		if err := bf.Close(); err != nil {
			logrus.Errorf("%+v", err)
		}
	}()

	for {
		block, err := bf.NextBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.WithMessagef(err, "worker %d", workerNum)
		}

		if c.maxHeight > 0 && block.Height > c.maxHeight {
			return nil
		}

		if block.Height%10000 == 0 {
			logrus.Infof("Worker %d: file %s, block %dk", workerNum, path.Base(bf.Filename()), block.Height/1000)
		}

		if err := c.notify(*block); err != nil {
			return err
		}
	}
}

// bitcoin core's VARINT, used in the block index. each byte carries 7 bits,
// most significant group first, and every continuation adds one so that
// encodings are unique. this is not the same as binary.Uvarint, nor the
// compact size used on the wire.
// https://github.com/bitcoin/bitcoin/blob/v0.21.0/src/serialize.h#L339
func base128(b []byte, offset int) (uint64, int, error) {
	var n uint64
	for {
		if offset >= len(b) {
			return 0, offset, errors.New("block index varint runs past end of record")
		}
		ch := b[offset]
		offset++
		n = (n << 7) | uint64(ch&0x7f)
		if ch&0x80 == 0 {
			return n, offset, nil
		}
		n++
	}
}

// blockFilesOrderedByHeight returns the block files, ordered by the height of
// the first block in each file. without a leveldb index the files are
// returned in name order and indexed is false.
func blockFilesOrderedByHeight(blocksDir string) (blockFiles []*BlockFile, indexed bool, err error) {
	blocksDir = strings.TrimSuffix(blocksDir, "/")

	indexDir := blocksDir + "/index"
	if _, statErr := os.Stat(indexDir); os.IsNotExist(statErr) {
		logrus.Infof("no block index in %s, reading block files in name order", blocksDir)
		blockFiles, err = blockFilesByName(blocksDir)
		return blockFiles, false, err
	}

	db, err := leveldb.OpenFile(indexDir, &opt.Options{ReadOnly: true})
	if err != nil {
		return nil, true, errors.Wrap(err, "opening block index")
	}
	defer db.Close()

	iter := db.NewIterator(util.BytesPrefix([]byte("f")), nil)
	for iter.Next() {
		// Remember that the contents of the returned slice should not be modified, and
		// only valid until the next call to Next.
		key := iter.Key()
		value := iter.Value()
		if len(key) != 5 {
			continue
		}

		blockFileNum := binary.LittleEndian.Uint32(key[1:])
		filename := fmt.Sprintf("blk%05d.dat", blockFileNum)

		// references
		// https://bitcoin.stackexchange.com/questions/67515/format-of-a-block-keys-contents-in-bitcoinds-leveldb
		// https://bitcoin.stackexchange.com/q/28168/616

		// record is nBlocks, nSize, nUndoSize, nHeightFirst, nHeightLast, nTimeFirst, nTimeLast
		var (
			offset      int
			firstHeight uint64
		)
		for i := 0; i < 3; i++ {
			_, offset, err = base128(value, offset)
			if err != nil {
				iter.Release()
				return nil, true, errors.WithMessagef(err, "index record for %s", filename)
			}
		}
		firstHeight, _, err = base128(value, offset)
		if err != nil {
			iter.Release()
			return nil, true, errors.WithMessagef(err, "index record for %s", filename)
		}

		blockFiles = append(blockFiles, &BlockFile{
			filename:    blocksDir + "/" + filename,
			firstHeight: firstHeight,
		})
	}
	iter.Release()

	err = iter.Error()
	if err != nil {
		return nil, true, errors.Wrap(err, "iterating block index")
	}

	sort.Slice(blockFiles, func(i, j int) bool {
		return blockFiles[i].firstHeight < blockFiles[j].firstHeight
	})

	return blockFiles, true, nil
}

func blockFilesByName(blocksDir string) ([]*BlockFile, error) {
	names, err := filepath.Glob(filepath.Join(blocksDir, "blk*.dat"))
	if err != nil {
		return nil, errors.Wrap(err, "listing block files")
	}
	sort.Strings(names)

	blockFiles := make([]*BlockFile, len(names))
	for i, name := range names {
		blockFiles[i] = &BlockFile{filename: name}
	}
	return blockFiles, nil
}
