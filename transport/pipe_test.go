package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	require := require.New(t)

	t.Run("Round Trip", func(t *testing.T) {
		a, b := Pipe()
		defer a.Close()
		defer b.Close()

		n, err := a.Write([]byte{1, 2, 3})
		require.NoError(err)
		require.Equal(3, n)

		buf := make([]byte, 16)
		n, err = b.Read(buf)
		require.NoError(err)
		require.Equal([]byte{1, 2, 3}, buf[:n])
	})

	t.Run("Short Reads Keep Leftover", func(t *testing.T) {
		a, b := Pipe()
		defer a.Close()
		defer b.Close()

		_, err := a.Write([]byte{1, 2, 3, 4, 5})
		require.NoError(err)

		buf := make([]byte, 2)

		n, err := b.Read(buf)
		require.NoError(err)
		require.Equal([]byte{1, 2}, buf[:n])

		n, err = b.Read(buf)
		require.NoError(err)
		require.Equal([]byte{3, 4}, buf[:n])

		n, err = b.Read(buf)
		require.NoError(err)
		require.Equal([]byte{5}, buf[:n])
	})

	t.Run("Chunk Boundaries Preserved", func(t *testing.T) {
		a, b := Pipe()
		defer a.Close()
		defer b.Close()

		_, err := a.Write([]byte{1, 2})
		require.NoError(err)
		_, err = a.Write([]byte{3, 4, 5})
		require.NoError(err)

		buf := make([]byte, 16)

		n, err := b.Read(buf)
		require.NoError(err)
		require.Equal(2, n)

		n, err = b.Read(buf)
		require.NoError(err)
		require.Equal(3, n)
	})

	t.Run("Writer Owns Nothing", func(t *testing.T) {
		a, b := Pipe()
		defer a.Close()
		defer b.Close()

		chunk := []byte{1, 2, 3}
		_, err := a.Write(chunk)
		require.NoError(err)

		chunk[0] = 0xFF

		buf := make([]byte, 16)
		n, err := b.Read(buf)
		require.NoError(err)
		require.Equal([]byte{1, 2, 3}, buf[:n])
	})

	t.Run("Close Unblocks Reader", func(t *testing.T) {
		a, b := Pipe()
		defer a.Close()

		done := make(chan error, 1)
		go func() {
			buf := make([]byte, 8)
			_, err := b.Read(buf)
			done <- err
		}()

		time.Sleep(10 * time.Millisecond)
		require.NoError(b.Close())

		select {
		case err := <-done:
			require.ErrorIs(err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("reader not unblocked by close")
		}
	})

	t.Run("Peer Close Fails Writes", func(t *testing.T) {
		a, b := Pipe()
		defer a.Close()

		require.NoError(b.Close())

		_, err := a.Write([]byte{1})
		require.ErrorIs(err, ErrClosed)
	})

	t.Run("Data Before Close Still Readable", func(t *testing.T) {
		a, b := Pipe()
		defer b.Close()

		_, err := a.Write([]byte{9, 9})
		require.NoError(err)
		require.NoError(a.Close())

		buf := make([]byte, 8)
		n, err := b.Read(buf)
		require.NoError(err)
		require.Equal([]byte{9, 9}, buf[:n])

		_, err = b.Read(buf)
		require.ErrorIs(err, ErrClosed)
	})

	t.Run("Double Close", func(t *testing.T) {
		a, b := Pipe()
		defer b.Close()

		require.NoError(a.Close())
		require.NoError(a.Close())
	})
}
