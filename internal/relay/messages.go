package relay

// User facing texts. The product speaks Indonesian.
const (
	messageEmpty               = "Pesan tidak boleh kosong. Silakan tulis pesan atau lampirkan gambar."
	messageInvalidImage        = "Gambar yang dilampirkan tidak valid. Silakan unggah ulang gambar dalam format PNG, JPEG, WEBP, atau GIF."
	messageConfigFormat        = "Model %s belum dikonfigurasi di server. Tambahkan %s pada environment server, lalu coba lagi."
	messageRateLimited         = "Batas penggunaan API telah tercapai (rate limit). Silakan tunggu beberapa saat lalu coba lagi."
	messageInsufficientBalance = "Saldo API tidak mencukupi. Silakan isi ulang saldo akun penyedia atau pilih model lain."
	messageInvalidKey          = "API key tidak valid atau tidak memiliki akses. Periksa kembali konfigurasi API key di server."
	messageGeneric             = "Maaf, terjadi kesalahan saat menghubungi layanan AI. Silakan coba lagi."
	messageInternal            = "Maaf, terjadi kesalahan internal pada server. Silakan coba lagi nanti."
)

// MessageInternal is the generic body used when a request fails outside the
// relay itself.
const MessageInternal = messageInternal

const titlePrompt = "Buatkan judul singkat (maksimal 6 kata) untuk percakapan yang diawali pesan berikut. " +
	"Balas hanya dengan judulnya, tanpa tanda kutip atau penjelasan.\n\nPesan: "
